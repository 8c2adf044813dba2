package crawler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
)

// RedactedValue masks secrets in displayed configuration.
const RedactedValue = "********"

// ConfigParams holds the connector configuration of a repository connection.
// Secrets live in the obfuscated half and never appear in plain text in the
// persisted form.
type ConfigParams struct {
	plain      map[string]string
	obfuscated map[string]string
}

// NewConfigParams returns an empty parameter set.
func NewConfigParams() ConfigParams {
	return ConfigParams{
		plain:      map[string]string{},
		obfuscated: map[string]string{},
	}
}

// Get returns the named parameter or "" when unset.
func (p ConfigParams) Get(name string) string {
	return p.plain[name]
}

// Set stores a plain parameter.
func (p *ConfigParams) Set(name, value string) {
	if p.plain == nil {
		p.plain = map[string]string{}
	}
	p.plain[name] = value
}

// GetObfuscated returns the named secret or "" when unset.
func (p ConfigParams) GetObfuscated(name string) string {
	return p.obfuscated[name]
}

// SetObfuscated stores a secret parameter.
func (p *ConfigParams) SetObfuscated(name, value string) {
	if p.obfuscated == nil {
		p.obfuscated = map[string]string{}
	}
	p.obfuscated[name] = value
}

// Names lists the plain parameter names in sorted order.
func (p ConfigParams) Names() []string {
	out := make([]string, 0, len(p.plain))
	for k := range p.plain {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (p ConfigParams) Clone() ConfigParams {
	out := NewConfigParams()
	for k, v := range p.plain {
		out.plain[k] = v
	}
	for k, v := range p.obfuscated {
		out.obfuscated[k] = v
	}
	return out
}

// Redacted returns a copy with every secret replaced by a fixed mask, for
// display.
func (p ConfigParams) Redacted() ConfigParams {
	out := p.Clone()
	for k := range out.obfuscated {
		out.obfuscated[k] = RedactedValue
	}
	return out
}

// Equal reports whether both sets carry the same values.
func (p ConfigParams) Equal(other ConfigParams) bool {
	return mapsEqual(p.plain, other.plain) && mapsEqual(p.obfuscated, other.obfuscated)
}

type paramsWire struct {
	Params     map[string]string `json:"params,omitempty"`
	Obfuscated map[string]string `json:"obfuscated,omitempty"`
}

// Encode renders the persisted config blob.
func (p ConfigParams) Encode() (string, error) {
	wire := paramsWire{Params: p.plain}
	if len(p.obfuscated) > 0 {
		wire.Obfuscated = make(map[string]string, len(p.obfuscated))
		for k, v := range p.obfuscated {
			wire.Obfuscated[k] = base64.StdEncoding.EncodeToString([]byte(v))
		}
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("encode config params: %w", err)
	}
	return string(data), nil
}

// DecodeConfigParams parses a blob produced by Encode. An empty blob yields
// an empty parameter set.
func DecodeConfigParams(blob string) (ConfigParams, error) {
	out := NewConfigParams()
	if blob == "" {
		return out, nil
	}
	var wire paramsWire
	if err := json.Unmarshal([]byte(blob), &wire); err != nil {
		return out, fmt.Errorf("decode config params: %w", err)
	}
	for k, v := range wire.Params {
		out.plain[k] = v
	}
	for k, v := range wire.Obfuscated {
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return out, fmt.Errorf("decode obfuscated param %q: %w", k, err)
		}
		out.obfuscated[k] = string(raw)
	}
	return out, nil
}

// MarshalJSON lets ConfigParams travel inside API payloads.
func (p ConfigParams) MarshalJSON() ([]byte, error) {
	return json.Marshal(paramsWire{Params: p.plain, Obfuscated: p.obfuscated})
}

// UnmarshalJSON accepts {"params":{...},"obfuscated":{...}} with clear-text secrets.
func (p *ConfigParams) UnmarshalJSON(data []byte) error {
	var wire paramsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("unmarshal config params: %w", err)
	}
	*p = NewConfigParams()
	for k, v := range wire.Params {
		p.plain[k] = v
	}
	for k, v := range wire.Obfuscated {
		p.obfuscated[k] = v
	}
	return nil
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
