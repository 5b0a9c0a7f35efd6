package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"crm-automation-api/internal/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}`)

// commonTokens are resolvable for every target entity.
var commonTokens = []string{"id", "evento", "entidade", "timestamp", "tenant_id"}

// entityTokens lists the record fields a body template may reference, per entity.
// Anything else renders empty.
var entityTokens = map[domain.TargetEntity][]string{
	domain.EntityLeads:      {"nome", "email", "telefone", "status", "origem"},
	domain.EntityProducts:   {"nome", "preco", "sku", "status"},
	domain.EntityProperties: {"titulo", "endereco", "preco", "status"},
	domain.EntityTasks:      {"titulo", "descricao", "status", "prazo"},
}

// TemplateContext is what placeholders resolve against.
type TemplateContext struct {
	TenantID uuid.UUID
	Entity   domain.TargetEntity
	Event    domain.TriggerEvent
	Record   map[string]any
	Now      time.Time
}

// AllowedTokens returns the placeholder names valid for entity.
func AllowedTokens(entity domain.TargetEntity) []string {
	return append(append([]string{}, commonTokens...), entityTokens[entity]...)
}

func (c TemplateContext) lookup(token string) (string, bool) {
	switch token {
	case "evento":
		return string(c.Event), true
	case "entidade":
		return string(c.Entity), true
	case "timestamp":
		return c.Now.UTC().Format(time.RFC3339), true
	case "tenant_id":
		return c.TenantID.String(), true
	}

	if token != "id" && !lo.Contains(entityTokens[c.Entity], token) {
		return "", false
	}

	value, ok := c.Record[token]
	if !ok || value == nil {
		return "", true
	}
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// escapeJSONString returns s escaped for use inside a JSON string literal.
func escapeJSONString(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted[1 : len(quoted)-1])
}

// Render resolves every {{token}} in tmpl. Values are JSON-string-escaped so a
// record field cannot break out of the surrounding JSON.
func Render(tmpl string, c TemplateContext) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		token := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := c.lookup(strings.ToLower(token))
		if !ok {
			return ""
		}
		return escapeJSONString(value)
	})
}

// BuildPayload shapes the outbound payload for an entity event. With a body
// template the rendered text is used (as JSON when it parses, else as a JSON
// string); without one the record is wrapped in a standard envelope.
func BuildPayload(rule domain.AutomationRule, c TemplateContext) (json.RawMessage, error) {
	if rule.BodyTemplate != nil && strings.TrimSpace(*rule.BodyTemplate) != "" {
		rendered := Render(*rule.BodyTemplate, c)
		if json.Valid([]byte(rendered)) {
			return json.RawMessage(rendered), nil
		}
		return json.Marshal(rendered)
	}

	return json.Marshal(map[string]any{
		"evento":    c.Event,
		"entidade":  c.Entity,
		"timestamp": c.Now.UTC().Format(time.RFC3339),
		"dados":     c.Record,
	})
}
