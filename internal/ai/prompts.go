package ai

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompt_templates/*.tmpl
var promptTemplates embed.FS

var (
	researchSystemTmpl = mustParsePrompt("research_system")
	researchUserTmpl   = mustParsePrompt("research_user")
)

func mustParsePrompt(name string) *template.Template {
	content, err := promptTemplates.ReadFile("prompt_templates/" + name + ".tmpl")
	if err != nil {
		panic(fmt.Sprintf("load prompt template %q: %v", name, err))
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		panic(fmt.Sprintf("parse prompt template %q: %v", name, err))
	}
	return tmpl
}

type promptData struct {
	Handle       string
	Display      string
	LanguageName string
	Deep         bool
}

func languageName(code string) string {
	switch code {
	case "zh":
		return "Chinese"
	default:
		return "English"
	}
}

func composeResearchPrompts(req ResearchRequest) (string, string, error) {
	data := promptData{
		Handle:       req.Handle,
		Display:      req.Display,
		LanguageName: languageName(req.Language),
		Deep:         req.Mode == "deep",
	}
	if data.Display == "" {
		data.Display = data.Handle
	}

	var systemBuf, userBuf strings.Builder
	if err := researchSystemTmpl.Execute(&systemBuf, data); err != nil {
		return "", "", fmt.Errorf("render system prompt: %w", err)
	}
	if err := researchUserTmpl.Execute(&userBuf, data); err != nil {
		return "", "", fmt.Errorf("render user prompt: %w", err)
	}
	return systemBuf.String(), userBuf.String(), nil
}
