package evaluation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/signalnine/riskarena/internal/catalog"
	"github.com/signalnine/riskarena/internal/scoring"
)

const (
	RoleAuditor = "auditor"

	KeyContractFiles    = "contract_files"
	KeyMaxExecutionTime = "max_execution_time"
	KeyScoringWeights   = "scoring_weights"

	DefaultMaxExecutionTime = 300
)

var (
	requiredRoles = []string{RoleAuditor}
	requiredKeys  = []string{KeyContractFiles}
)

// Request is the inbound evaluation request. A nil Config means the default
// configuration.
type Request struct {
	Participants map[string]string `json:"participants"`
	Config       map[string]any    `json:"config,omitempty"`
}

// ParseRequest decodes a request body. It only fails on unreadable JSON;
// missing roles and keys are reported when the run validates the request.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("decoding evaluation request: %w", err)
	}
	return &req, nil
}

// DefaultConfig is used when a request carries no config at all.
func DefaultConfig(cat *catalog.Catalog) map[string]any {
	w := scoring.DefaultWeights
	return map[string]any{
		KeyContractFiles:    cat.ContractFiles(),
		KeyMaxExecutionTime: DefaultMaxExecutionTime,
		KeyScoringWeights: map[string]any{
			"detection":       w.Detection,
			"severity":        w.Severity,
			"fixes":           w.Fixes,
			"reproducibility": w.Reproducibility,
		},
	}
}

// Config is the typed view of a validated request config.
type Config struct {
	ContractFiles    []string
	MaxExecutionTime time.Duration
	// Weights is zero when the request does not set scoring_weights.
	Weights scoring.Weights
	Raw     map[string]any
}

// Contracts returns the contract names referenced by ContractFiles.
func (c *Config) Contracts() []string {
	names := make([]string, len(c.ContractFiles))
	for i, f := range c.ContractFiles {
		names[i] = catalog.ContractName(f)
	}
	return names
}

type wireConfig struct {
	ContractFiles    []string         `json:"contract_files" validate:"required,min=1,dive,required"`
	// Seconds, capped at one day.
	MaxExecutionTime *float64         `json:"max_execution_time" validate:"omitempty,gte=0,lte=86400"`
	ScoringWeights   *scoring.Weights `json:"scoring_weights"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return jsonName(fld.Tag.Get("json"))
	})
}

func jsonName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}

// Validate checks roles and required config keys and decodes the config.
// Every problem is a *RequestInvalidError.
func (r *Request) Validate(cat *catalog.Catalog) (*Config, error) {
	raw := r.Config
	if raw == nil {
		raw = DefaultConfig(cat)
	}

	invalid := &RequestInvalidError{}
	for _, role := range requiredRoles {
		if strings.TrimSpace(r.Participants[role]) == "" {
			invalid.MissingRoles = append(invalid.MissingRoles, role)
		}
	}
	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			invalid.MissingKeys = append(invalid.MissingKeys, key)
		}
	}
	sort.Strings(invalid.MissingRoles)
	sort.Strings(invalid.MissingKeys)
	if len(invalid.MissingRoles) > 0 || len(invalid.MissingKeys) > 0 {
		return nil, invalid
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, &RequestInvalidError{Reason: fmt.Sprintf("config is not serializable: %v", err)}
	}
	var wc wireConfig
	if err := json.Unmarshal(data, &wc); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, &RequestInvalidError{Reason: fmt.Sprintf("config.%s: expected %s", typeErr.Field, typeErr.Type)}
		}
		return nil, &RequestInvalidError{Reason: fmt.Sprintf("config: %v", err)}
	}
	if err := validate.Struct(&wc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			ns := fe.Namespace()
			if _, rest, ok := strings.Cut(ns, "."); ok {
				ns = rest
			}
			return nil, &RequestInvalidError{Reason: fmt.Sprintf("config.%s failed %q check", ns, fe.Tag())}
		}
		return nil, &RequestInvalidError{Reason: err.Error()}
	}

	cfg := &Config{ContractFiles: wc.ContractFiles, Raw: raw}
	if wc.MaxExecutionTime != nil {
		cfg.MaxExecutionTime = time.Duration(*wc.MaxExecutionTime * float64(time.Second))
	}
	if wc.ScoringWeights != nil {
		if err := wc.ScoringWeights.Validate(); err != nil {
			return nil, &RequestInvalidError{Reason: "config." + err.Error()}
		}
		cfg.Weights = *wc.ScoringWeights
	}
	return cfg, nil
}
