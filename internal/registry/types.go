// Package registry loads and indexes endpoint definitions from a directory
// tree of JSON files, exposing a case-insensitive, atomically-swappable
// snapshot for the forwarder and composite orchestrator to consult.
package registry

import "strings"

// Kind classifies an EndpointDefinition.
type Kind string

const (
	KindStandard  Kind = "Standard"
	KindComposite Kind = "Composite"
	KindPrivate   Kind = "Private"
)

func parseKind(raw string) Kind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "composite":
		return KindComposite
	case "private":
		return KindPrivate
	default:
		return KindStandard
	}
}

// EndpointDefinition describes a single named upstream target.
type EndpointDefinition struct {
	Name            string
	URL             string
	Methods         map[string]struct{}
	Kind            Kind
	IsPrivate       bool
	CompositeConfig *CompositeDefinition
}

// AllowsMethod reports whether method (case-insensitive) is in the
// endpoint's allowed method set.
func (e EndpointDefinition) AllowsMethod(method string) bool {
	_, ok := e.Methods[strings.ToUpper(method)]
	return ok
}

// AccessibleDirectly reports whether the endpoint may be dialed through the
// standard proxy surface, as opposed to only via a composite step.
func (e EndpointDefinition) AccessibleDirectly() bool {
	return !e.IsPrivate && e.Kind != KindComposite
}

// CompositeDefinition describes a named, ordered multi-step workflow.
type CompositeDefinition struct {
	Name        string
	Description string
	Steps       []CompositeStep
}

// CompositeStep describes one step of a CompositeDefinition.
type CompositeStep struct {
	Name                    string
	Endpoint                string
	Method                  string
	DependsOn               string
	IsArray                 bool
	ArrayProperty           string
	SourceProperty          string
	TemplateTransformations map[string]string
}

// endpointFile is the on-disk JSON shape of a single endpoint definition.
type endpointFile struct {
	URL             string           `json:"Url"`
	Methods         []string         `json:"Methods"`
	Type            string           `json:"Type"`
	IsPrivate       bool             `json:"IsPrivate"`
	CompositeConfig *compositeConfig `json:"CompositeConfig"`
}

type compositeConfig struct {
	Name        string        `json:"Name"`
	Description string        `json:"Description"`
	Steps       []compositeStepFile `json:"Steps"`
}

type compositeStepFile struct {
	Name                    string            `json:"Name"`
	Endpoint                string            `json:"Endpoint"`
	Method                  string            `json:"Method"`
	DependsOn               string            `json:"DependsOn"`
	IsArray                 bool              `json:"IsArray"`
	ArrayProperty           string            `json:"ArrayProperty"`
	SourceProperty          string            `json:"SourceProperty"`
	TemplateTransformations map[string]string `json:"TemplateTransformations"`
}

func (c *compositeConfig) toDefinition(name string) *CompositeDefinition {
	if c == nil {
		return nil
	}
	def := &CompositeDefinition{
		Name:        firstNonEmpty(c.Name, name),
		Description: c.Description,
		Steps:       make([]CompositeStep, 0, len(c.Steps)),
	}
	for _, step := range c.Steps {
		def.Steps = append(def.Steps, CompositeStep{
			Name:                    step.Name,
			Endpoint:                step.Endpoint,
			Method:                  step.Method,
			DependsOn:               step.DependsOn,
			IsArray:                 step.IsArray,
			ArrayProperty:           step.ArrayProperty,
			SourceProperty:          step.SourceProperty,
			TemplateTransformations: step.TemplateTransformations,
		})
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
