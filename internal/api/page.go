package api

import (
	"embed"
	"html/template"
	"strings"

	"github.com/kalambet/swtanno/internal/annotate"
	"github.com/kalambet/swtanno/internal/config"
	"github.com/kalambet/swtanno/internal/storage"
)

//go:embed templates/*.html
var templateFS embed.FS

var reviewPage = template.Must(
	template.New("review.html").
		Funcs(template.FuncMap{"lines": strings.Split}).
		ParseFS(templateFS, "templates/review.html"),
)

type pageData struct {
	State     annotate.State
	Records   []storage.Record
	Columns   []string
	Bindings  []binding
	TablePath string
	Error     string
}

// binding ties a keyboard shortcut to a review action for the page script.
type binding struct {
	Action annotate.Action `json:"action"`
	Label  string          `json:"label"`
	Key    string          `json:"key"`
}

func bindings(k config.KeysConfig) []binding {
	return []binding{
		{Action: annotate.ActionContinue, Label: "Continue", Key: k.Continue},
		{Action: annotate.ActionReject, Label: "Reject", Key: k.Reject},
		{Action: annotate.ActionSwap, Label: "Swap", Key: k.Swap},
		{Action: annotate.ActionDelete, Label: "Delete", Key: k.Delete},
	}
}
