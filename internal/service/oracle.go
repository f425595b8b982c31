// oracle.go — адаптер оракула оценки аутентичности.
// Отправляет извлечённый текст внешней LLM с промптом, требующим строгий
// JSON, и разбирает структурированный результат. Некорректный (но
// полученный) ответ заменяется фиксированным fallback-результатом —
// пользователь всегда получает завершённый результат вместо непрозрачной
// ошибки. Сетевые и auth-ошибки вызова LLM пробрасываются вызывающему.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/sync/errgroup"
)

// batchLimit — максимальное количество элементов batch-вызова.
const batchLimit = 10

// oracleSystemPrompt — промпт анализа. LLM обязана вернуть строгий JSON.
const oracleSystemPrompt = `You are a content authenticity validator.
Analyze the following content text for:
1. Originality Score (0-100, where 100 is highly original)
2. Plagiarism Risk (0-100, where 100 is high risk)
3. Deepfake Confidence (0-100, probability of being AI generated/fake)
4. Sentiment (Positive, Neutral, Negative)
5. A brief summary of the content (max 200 words)
6. Brief reasoning behind the scores

Return ONLY valid JSON, no markdown formatting:
{ "originality": number, "plagiarism": number, "deepfake": number, "sentiment": string, "summary": string, "reasoning": string }`

// VerificationResult — структурированный результат оценки контента.
type VerificationResult struct {
	// Originality — оценка оригинальности 0-100.
	Originality int `json:"originality"`
	// Plagiarism — риск плагиата 0-100.
	Plagiarism int `json:"plagiarism"`
	// Deepfake — вероятность синтетического контента 0-100.
	Deepfake int `json:"deepfake"`
	// Sentiment — тональность (Positive, Neutral, Negative).
	Sentiment string `json:"sentiment"`
	// Summary — краткое содержание.
	Summary string `json:"summary"`
	// Reasoning — обоснование оценок.
	Reasoning string `json:"reasoning"`
}

// fallbackResult — фиксированный результат при неразбираемом ответе оракула.
func fallbackResult() *VerificationResult {
	return &VerificationResult{
		Originality: 75,
		Plagiarism:  25,
		Deepfake:    20,
		Sentiment:   "Neutral",
		Summary:     "Analysis completed but response format was invalid",
		Reasoning:   "Unable to parse detailed analysis",
	}
}

// Oracle — адаптер внешней LLM для оценки аутентичности.
// Зависимость конструируется явно и передаётся через конструктор —
// глобального синглтона нет, тесты подставляют фейковую модель.
type Oracle struct {
	llm    llms.Model
	logger *slog.Logger
}

// NewOracle создаёт адаптер оракула поверх langchaingo-модели.
func NewOracle(llm llms.Model, logger *slog.Logger) *Oracle {
	return &Oracle{
		llm:    llm,
		logger: logger.With(slog.String("component", "oracle")),
	}
}

// Verify отправляет текст оракулу и возвращает структурированный результат.
// Ошибка вызова LLM (сеть, auth) возвращается вызывающему; неразбираемый
// ответ заменяется fallback-результатом.
func (o *Oracle) Verify(ctx context.Context, content string) (*VerificationResult, error) {
	resp, err := o.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, oracleSystemPrompt),
			llms.TextParts(llms.ChatMessageTypeHuman, content),
		},
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, fmt.Errorf("вызов оракула: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("вызов оракула: пустой ответ модели")
	}

	result, ok := parseOracleResponse(resp.Choices[0].Content)
	if !ok {
		o.logger.Warn("Ответ оракула не разобран — используется fallback-результат",
			slog.Int("response_len", len(resp.Choices[0].Content)),
		)
		return fallbackResult(), nil
	}
	return result, nil
}

// BatchVerify оценивает до batchLimit текстов конкурентно.
// Порядок результатов соответствует порядку входа. Ошибка любого
// элемента отменяет весь batch — изоляции частичных отказов нет.
func (o *Oracle) BatchVerify(ctx context.Context, contents []string) ([]*VerificationResult, error) {
	if len(contents) > batchLimit {
		contents = contents[:batchLimit]
	}

	results := make([]*VerificationResult, len(contents))

	g, gctx := errgroup.WithContext(ctx)
	for i, content := range contents {
		g.Go(func() error {
			res, err := o.Verify(gctx, content)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// parseOracleResponse разбирает ответ LLM в VerificationResult.
// Markdown code fences удаляются перед разбором. Возвращает false,
// если JSON некорректен или обязательные поля отсутствуют.
func parseOracleResponse(text string) (*VerificationResult, bool) {
	clean := strings.TrimSpace(text)
	clean = strings.ReplaceAll(clean, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")
	clean = strings.TrimSpace(clean)

	// Разбор через указатели — отличаем отсутствующее поле от нулевого
	var raw struct {
		Originality *int    `json:"originality"`
		Plagiarism  *int    `json:"plagiarism"`
		Deepfake    *int    `json:"deepfake"`
		Sentiment   string  `json:"sentiment"`
		Summary     string  `json:"summary"`
		Reasoning   string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(clean), &raw); err != nil {
		return nil, false
	}
	if raw.Originality == nil || raw.Plagiarism == nil || raw.Deepfake == nil || raw.Sentiment == "" {
		return nil, false
	}

	return &VerificationResult{
		Originality: clampScore(*raw.Originality),
		Plagiarism:  clampScore(*raw.Plagiarism),
		Deepfake:    clampScore(*raw.Deepfake),
		Sentiment:   raw.Sentiment,
		Summary:     raw.Summary,
		Reasoning:   raw.Reasoning,
	}, true
}

// clampScore приводит оценку к диапазону [0, 100].
func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
