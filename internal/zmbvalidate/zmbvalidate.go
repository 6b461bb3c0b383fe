// Package zmbvalidate validates and normalizes the parameter objects of the
// RPC methods before any side effect takes place.
//
// Validation problems are collected as an ordered list of JSON-Pointer paths
// with messages, translated into the language the client asked for.  The
// boundary is deliberately lax about scalar types: clients have historically
// sent integers as strings and booleans as assorted scalars, and those
// requests must keep working.
package zmbvalidate

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/zonemaster/zmbroker/internal/language"
	"github.com/zonemaster/zmbroker/internal/profiles"
	"github.com/zonemaster/zmbroker/internal/translate"
)

// Problem is a single validation failure.
type Problem struct {
	// Path is a JSON Pointer into the params object.
	Path string `json:"path"`

	// Message describes the failure.  It is translated when the request
	// carries a valid language tag.
	Message string `json:"message"`
}

// Validator checks the parameter objects of all RPC methods.
type Validator struct {
	profiles   *profiles.Registry
	locales    *language.Locales
	translator translate.Interface
}

// Config is the [Validator] configuration.  All fields must be non-nil.
type Config struct {
	// Profiles is the registry the profile parameter is checked against.
	Profiles *profiles.Registry

	// Locales is the set of supported languages.
	Locales *language.Locales

	// Translator renders problem messages in the requested language.
	Translator translate.Interface
}

// New returns a new properly initialized *Validator.
func New(c *Config) (v *Validator) {
	return &Validator{
		profiles:   c.Profiles,
		locales:    c.Locales,
		translator: c.Translator,
	}
}

// decodeObject parses raw as a JSON object, keeping numbers as
// [json.Number] so the coercion rules can distinguish integral from
// fractional values.  A missing params object is treated as empty.
func decodeObject(raw json.RawMessage) (obj map[string]any, probs []*Problem) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	err := dec.Decode(&obj)
	if err != nil || obj == nil {
		return nil, []*Problem{{
			Path:    "",
			Message: msgNotAnObject,
		}}
	}

	return obj, nil
}

// checkUnknown appends a problem for every top-level property of obj that is
// not in allowed.  The method schemas are strict.
func checkUnknown(obj map[string]any, allowed []string) (probs []*Problem) {
	var unknown []string
	for k := range obj {
		if !slices.Contains(allowed, k) {
			unknown = append(unknown, k)
		}
	}

	slices.Sort(unknown)

	for _, k := range unknown {
		probs = append(probs, &Problem{
			Path:    "/" + k,
			Message: msgUnknownProperty,
		})
	}

	return probs
}

// translateAll renders the messages of probs in the locale resolved from tag.
// An invalid tag leaves the messages in their untranslated source form.
func (v *Validator) translateAll(probs []*Problem, tag string) {
	locale, ok := v.locales.Resolve(tag)
	if !ok {
		return
	}

	for _, p := range probs {
		p.Message = v.translator.Message(p.Message, locale)
	}
}

// Validation problem messages.  These are the source (msgid) forms; the
// catalog may carry translations for them.
const (
	msgNotAnObject     = "Parameters must be an object"
	msgUnknownProperty = "Unknown property"
	msgMissing         = "Missing required property"
	msgNotAnInteger    = "Must be an integer"
	msgNotAString      = "Must be a string"
	msgNotAList        = "Must be a list"
	msgNotAnObjectElem = "Must be an object"

	msgDomainTooLong  = "The domain name length must not exceed 254 characters"
	msgLabelTooLong   = "The domain name label length must not exceed 63 characters"
	msgDomainBadChars = "The domain name character(s) are not supported"
	msgDomainBadIDNA  = "The domain name cannot be converted to an A-label"

	msgBadIP = "Invalid IP address"

	msgBadDigest     = "Invalid digest format"
	msgBadAlgorithm  = "Invalid algorithm"
	msgBadDigestType = "Invalid digest type"
	msgBadKeyTag     = "Invalid key tag"

	msgBadProfile     = "Invalid profile name format"
	msgUnknownProfile = "Unknown profile"

	msgBadLanguage = "Invalid language tag"

	msgBadUsername = "Invalid username format"
	msgBadAPIKey   = "Invalid API key format"

	msgBadPriority = "Invalid priority"
	msgBadQueue    = "Invalid queue"
	msgBadOffset   = "Invalid offset"
	msgBadLimit    = "Invalid limit"
	msgBadFilter   = "Invalid filter"
	msgBadTestID   = "Invalid test id"
	msgBadBatchID  = "Invalid batch id"
	msgBadHostname = "Invalid hostname"
)
