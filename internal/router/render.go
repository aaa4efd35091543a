package router

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*
var templatesFS embed.FS

// renderConfig renders the FRR daemon configuration for cfg, the same
// text/template-plus-go:embed technique controlplane/controller uses for
// device configs.
func renderConfig(cfg Config) (string, error) {
	t, err := template.New("frr.tmpl").ParseFS(templatesFS, "templates/frr.tmpl")
	if err != nil {
		return "", fmt.Errorf("router: loading frr template: %w", err)
	}
	var out bytes.Buffer
	if err := t.Execute(&out, cfg); err != nil {
		return "", fmt.Errorf("router: executing frr template: %w", err)
	}
	return out.String(), nil
}
