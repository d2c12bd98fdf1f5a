package assistant

import (
	"encoding/json"
	"fmt"
	"strings"

	"lexledger/internal/external"
	"lexledger/internal/types"
)

// Modes accepted in ActionInput.Mode, per action.
var (
	reviewModes = map[string]string{
		"simple":    "Faça um resumo executivo objetivo do contrato, destacando as obrigações principais de cada parte.",
		"technical": "Faça uma análise técnica cláusula a cláusula, explicando as implicações jurídicas de cada disposição relevante.",
		"risks":     "Identifique riscos, cláusulas abusivas ou desequilibradas e pontos que exigem negociação ou atenção.",
	}

	analysisModes = map[string]string{
		"summary":    "Produza um resumo executivo do documento com as informações essenciais.",
		"key_points": "Liste os pontos importantes do documento, ordenados por relevância.",
		"arguments":  "Sugira teses jurídicas aplicáveis ao caso descrito no documento, com a fundamentação legal de cada uma.",
		"improve":    "Reescreva o texto do documento de forma mais clara, profissional e juridicamente precisa.",
	}

	contentFormats = map[string]string{
		"reels":    "Roteiro de Reels (30 a 60 segundos) com gancho nos primeiros 3 segundos, desenvolvimento, texto de tela sugerido e chamada final.",
		"carousel": "Carrossel de 8 a 10 slides; para cada slide, título, texto de até 150 caracteres e sugestão visual. O último slide é a chamada para ação.",
		"post":     "Legenda de post com abertura forte, conteúdo informativo, chamada para ação e de 5 a 10 hashtags.",
		"stories":  "Sequência de 5 a 7 stories, cada um com texto curto, um elemento interativo (enquete, quiz ou caixa de perguntas) e indicação visual.",
		"linkedin": "Post profissional para LinkedIn com abertura impactante, insights em tópicos, reflexão final e de 3 a 5 hashtags.",
	}
)

const (
	draftingSystem = `Você é um assistente jurídico que redige documentos segundo a prática forense brasileira.
Use linguagem formal e técnica, inclua todas as partes obrigatórias do documento e entregue o texto pronto para revisão por advogado.`

	reviewSystem = `Você é um assistente jurídico especializado em contratos brasileiros.
Analise com rigor técnico, em linguagem acessível. Responda somente com JSON válido.`

	analysisSystem = `Você é um assistente jurídico especializado em análise de documentos brasileiros.
Analise com rigor técnico, em linguagem acessível. Responda somente com JSON válido.`

	contentSystem = `Você cria conteúdo jurídico para redes sociais de advogados.
O conteúdo deve educar o público leigo, posicionar o advogado como autoridade e respeitar as regras da OAB sobre publicidade.`

	structuredReply = `Responda apenas com um objeto JSON, sem markdown, no formato:
{"summary": "resultado principal", "highlights": ["ponto 1", "ponto 2"], "alerts": ["alerta 1"]}
Use uma lista vazia em "alerts" quando não houver pontos de atenção.`
)

// longPetitionMaxTokens lifts the completion limit for long petitions.
const longPetitionMaxTokens = 8192

// maxInputChars bounds the text a user can submit in one action.
const maxInputChars = 60000

// ActionInput carries the user's request. Which fields are required depends
// on the action:
//
//	generate_simple, long_petition  DocumentType, Area, Text (facts of the case)
//	legal_review                    Text (contract), Mode in simple|technical|risks (default simple)
//	pdf_analysis                    Text (extracted document text), Mode in summary|key_points|arguments|improve
//	generate_content                Text (topic), Mode in reels|carousel|post|stories|linkedin
type ActionInput struct {
	DocumentType string `json:"document_type,omitempty" validate:"max=200"`
	Area         string `json:"area,omitempty" validate:"max=200"`
	Text         string `json:"text" validate:"required"`
	Mode         string `json:"mode,omitempty"`
	FileName     string `json:"file_name,omitempty" validate:"max=255"`
}

// StructuredResult is the parsed reply of the review and analysis actions.
type StructuredResult struct {
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights"`
	Alerts     []string `json:"alerts"`
}

func invalidInput(field, reason string) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidInput,
		fmt.Sprintf("invalid %s: %s", field, reason),
		nil,
		map[string]any{"fields": map[string]any{field: reason}},
	)
}

func missingField(field string) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		fmt.Sprintf("%s is required", field),
		nil,
		map[string]any{"fields": map[string]any{field: "required"}},
	)
}

func pickMode(field string, modes map[string]string, mode, fallback string) (string, error) {
	if mode == "" {
		if fallback == "" {
			return "", missingField(field)
		}
		mode = fallback
	}
	instruction, ok := modes[mode]
	if !ok {
		return "", invalidInput(field, "unsupported value "+mode)
	}
	return instruction, nil
}

// buildPrompt validates in for kind and renders the completion request.
func buildPrompt(kind types.ActionKind, in ActionInput) (external.CompletionRequest, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return external.CompletionRequest{}, missingField("text")
	}
	if len([]rune(text)) > maxInputChars {
		return external.CompletionRequest{}, invalidInput("text", fmt.Sprintf("longer than %d characters", maxInputChars))
	}

	switch kind {
	case types.ActionGenerateSimple, types.ActionLongPetition:
		if strings.TrimSpace(in.DocumentType) == "" {
			return external.CompletionRequest{}, missingField("document_type")
		}
		if strings.TrimSpace(in.Area) == "" {
			return external.CompletionRequest{}, missingField("area")
		}
		req := external.CompletionRequest{
			System: draftingSystem,
			User: fmt.Sprintf("Redija um documento do tipo: %s\nÁrea do Direito: %s\n\nFatos do caso:\n%s\n\nEntregue o documento completo.",
				in.DocumentType, in.Area, text),
		}
		if kind == types.ActionLongPetition {
			req.User += "\nEsta é uma peça extensa: desenvolva com profundidade os fatos, os fundamentos jurídicos com doutrina e jurisprudência pertinentes e os pedidos."
			req.MaxTokens = longPetitionMaxTokens
		}
		return req, nil

	case types.ActionLegalReview:
		instruction, err := pickMode("mode", reviewModes, in.Mode, "simple")
		if err != nil {
			return external.CompletionRequest{}, err
		}
		return external.CompletionRequest{
			System: reviewSystem,
			User:   fmt.Sprintf("%s\n\nContrato:\n%s\n\n%s", instruction, text, structuredReply),
		}, nil

	case types.ActionPDFAnalysis:
		instruction, err := pickMode("mode", analysisModes, in.Mode, "")
		if err != nil {
			return external.CompletionRequest{}, err
		}
		name := in.FileName
		if name == "" {
			name = "documento.pdf"
		}
		return external.CompletionRequest{
			System: analysisSystem,
			User:   fmt.Sprintf("%s\n\nDocumento (%s):\n%s\n\n%s", instruction, name, text, structuredReply),
		}, nil

	case types.ActionGenerateContent:
		instruction, err := pickMode("mode", contentFormats, in.Mode, "")
		if err != nil {
			return external.CompletionRequest{}, err
		}
		return external.CompletionRequest{
			System: contentSystem,
			User:   fmt.Sprintf("Formato: %s\n\nTema: %s\n\nEntregue o conteúdo completo, pronto para publicar.", instruction, text),
		}, nil
	}
	return external.CompletionRequest{}, types.NewAppErrorWithDetails(
		types.ErrCodeInternalUnknownAction, "unknown action kind", nil,
		map[string]any{"action": string(kind)},
	)
}

// structured reports whether kind replies with a StructuredResult.
func structured(kind types.ActionKind) bool {
	return kind == types.ActionLegalReview || kind == types.ActionPDFAnalysis
}

// parseStructured reads a StructuredResult out of a model reply. Models
// sometimes wrap JSON in code fences or use alternative key names; anything
// unparseable becomes the summary verbatim.
func parseStructured(content string) StructuredResult {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var raw struct {
		Summary    string   `json:"summary"`
		Content    string   `json:"content"`
		Highlights []string `json:"highlights"`
		KeyPoints  []string `json:"keyPoints"`
		Alerts     []string `json:"alerts"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return StructuredResult{Summary: content, Highlights: []string{}, Alerts: []string{}}
	}

	out := StructuredResult{Summary: raw.Summary, Highlights: raw.Highlights, Alerts: raw.Alerts}
	if out.Summary == "" {
		out.Summary = raw.Content
	}
	if len(out.Highlights) == 0 {
		out.Highlights = raw.KeyPoints
	}
	if out.Highlights == nil {
		out.Highlights = []string{}
	}
	if out.Alerts == nil {
		out.Alerts = []string{}
	}
	return out
}
