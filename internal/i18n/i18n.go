// Package i18n renders localized simulation step messages.
package i18n

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalogs/*.yaml
var builtin embed.FS

// DefaultLocale is used when neither the context nor the catalog names one.
const DefaultLocale = "en"

type localeKey struct{}

// WithLocale returns a context that renders messages in locale.
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, normalize(locale))
}

// LocaleFrom returns the locale stored in ctx, or "" when none was set.
func LocaleFrom(ctx context.Context) string {
	locale, _ := ctx.Value(localeKey{}).(string)
	return locale
}

// Catalog holds message templates per locale. Templates use {name}
// placeholders. It is immutable after loading and safe for concurrent use.
type Catalog struct {
	fallback string
	messages map[string]map[string]string
}

// Load parses the embedded catalogs.
func Load(fallback string) (*Catalog, error) {
	return LoadFS(builtin, "catalogs", fallback)
}

// MustLoad is Load for process startup and tests.
func MustLoad(fallback string) *Catalog {
	c, err := Load(fallback)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadFS parses every <locale>.yaml file of dir in fsys.
func LoadFS(fsys fs.FS, dir, fallback string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading catalogs: %w", err)
	}

	c := &Catalog{
		fallback: normalize(fallback),
		messages: make(map[string]map[string]string),
	}
	if c.fallback == "" {
		c.fallback = DefaultLocale
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading catalog %s: %w", name, err)
		}
		var msgs map[string]string
		if err := yaml.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("parsing catalog %s: %w", name, err)
		}
		c.messages[normalize(strings.TrimSuffix(name, ".yaml"))] = msgs
	}

	if _, ok := c.messages[c.fallback]; !ok {
		return nil, fmt.Errorf("no catalog for fallback locale %q", c.fallback)
	}
	return c, nil
}

// Locales lists the loaded locales in order.
func (c *Catalog) Locales() []string {
	out := make([]string, 0, len(c.messages))
	for l := range c.messages {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether a catalog exists for locale.
func (c *Catalog) Supports(locale string) bool {
	_, ok := c.messages[normalize(locale)]
	return ok
}

// Match picks the first supported locale of an Accept-Language header,
// ignoring quality weights beyond their order. It returns the fallback when
// nothing matches.
func (c *Catalog) Match(acceptLanguage string) string {
	for _, part := range strings.Split(acceptLanguage, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if tag == "" || tag == "*" {
			continue
		}
		if c.Supports(tag) {
			return normalize(tag)
		}
		if base, _, ok := strings.Cut(tag, "-"); ok && c.Supports(base) {
			return normalize(base)
		}
	}
	return c.fallback
}

// Render looks key up in the context locale, then the fallback locale, and
// substitutes params. An unknown key renders as the key itself.
func (c *Catalog) Render(ctx context.Context, key string, params map[string]any) string {
	tmpl, ok := c.lookup(LocaleFrom(ctx), key)
	if !ok {
		return key
	}
	return substitute(tmpl, params)
}

func (c *Catalog) lookup(locale, key string) (string, bool) {
	if msgs, ok := c.messages[locale]; ok {
		if tmpl, ok := msgs[key]; ok {
			return tmpl, true
		}
	}
	tmpl, ok := c.messages[c.fallback][key]
	return tmpl, ok
}

func substitute(tmpl string, params map[string]any) string {
	if len(params) == 0 || !strings.Contains(tmpl, "{") {
		return tmpl
	}
	pairs := make([]string, 0, len(params)*2)
	for name, v := range params {
		pairs = append(pairs, "{"+name+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func normalize(locale string) string {
	return strings.ToLower(strings.TrimSpace(locale))
}
