package rewrite

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

//go:embed prompts/universal.txt
var defaultPrompt string

const (
	fallbackTitle   = "Sem título"
	fallbackExcerpt = "Sem resumo"
)

// Vars are the placeholder values of a prompt.
type Vars struct {
	Title   string
	Excerpt string
	Domain  string
	Content string
}

// Template is a prompt with {title}, {excerpt}, {domain} and {content} placeholders.
// Other braces are left untouched.
type Template struct {
	text string
}

// DefaultTemplate returns the embedded prompt.
func DefaultTemplate() *Template {
	return &Template{text: defaultPrompt}
}

// LoadTemplate reads a prompt file; an empty path yields the embedded prompt.
func LoadTemplate(path string) (*Template, error) {
	if path == "" {
		return DefaultTemplate(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt template: %w", err)
	}
	if !strings.Contains(string(data), "{content}") {
		return nil, fmt.Errorf("prompt template %s has no {content} placeholder", path)
	}
	return &Template{text: string(data)}, nil
}

// Render substitutes v into the template in a single pass.
func (t *Template) Render(v Vars) string {
	title := strings.TrimSpace(v.Title)
	if title == "" {
		title = fallbackTitle
	}
	excerpt := strings.TrimSpace(v.Excerpt)
	if excerpt == "" {
		excerpt = fallbackExcerpt
	}

	return strings.NewReplacer(
		"{title}", title,
		"{excerpt}", excerpt,
		"{domain}", v.Domain,
		"{content}", v.Content,
	).Replace(t.text)
}

// Output is the structured rewrite returned by the model.
type Output struct {
	Title           string   `json:"titulo_final"`
	Body            string   `json:"conteudo_final"`
	MetaDescription string   `json:"meta_description"`
	FocusKeyword    string   `json:"focus_keyword"`
	Category        string   `json:"categoria"`
	PrimarySubject  string   `json:"obra_principal"`
	Tags            []string `json:"tags"`

	YouTubeVideos []string `json:"videos_youtube,omitempty"`
	TwitterLinks  []string `json:"links_twitter,omitempty"`
	Images        []string `json:"imagens,omitempty"`
}

// MalformedError means the model reply is not the expected JSON object.
type MalformedError struct {
	Missing []string
	Err     error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return "malformed generation reply: " + e.Err.Error()
	}
	return "malformed generation reply: missing " + strings.Join(e.Missing, ", ")
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Parse decodes the model reply. A surrounding markdown code fence is tolerated.
// Every required key must be present and non-empty.
func Parse(text string) (*Output, error) {
	raw := stripFence(text)

	var out Output
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, &MalformedError{Err: err}
	}

	out.Tags = cleanList(out.Tags)
	out.YouTubeVideos = cleanList(out.YouTubeVideos)
	out.TwitterLinks = cleanList(out.TwitterLinks)
	out.Images = cleanList(out.Images)

	required := map[string]string{
		"titulo_final":     out.Title,
		"conteudo_final":   out.Body,
		"meta_description": out.MetaDescription,
		"focus_keyword":    out.FocusKeyword,
		"categoria":        out.Category,
		"obra_principal":   out.PrimarySubject,
	}
	var missing []string
	for key, val := range required {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key)
		}
	}
	if len(out.Tags) == 0 {
		missing = append(missing, "tags")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MalformedError{Missing: missing}
	}

	out.Title = strings.TrimSpace(out.Title)
	out.Category = strings.TrimSpace(out.Category)
	return &out, nil
}

func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func cleanList(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
