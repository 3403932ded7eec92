package i18n

import (
	"context"
	"testing"
	"testing/fstest"
)

func TestRender(t *testing.T) {
	c := MustLoad("en")
	ctx := context.Background()

	tests := []struct {
		name   string
		locale string
		key    string
		params map[string]any
		want   string
	}{
		{
			name:   "english",
			locale: "en",
			key:    "CAR_KM.not_ok",
			params: map[string]any{"km": 260000, "max": 250000},
			want:   "Mileage 260000 km exceeds the maximum of 250000 km",
		},
		{
			name:   "dutch",
			locale: "nl",
			key:    "ESTIMATED_PRICE.ok",
			params: map[string]any{"price": "15k"},
			want:   "Geschatte overnameprijs 15k",
		},
		{
			name:   "unsupported locale falls back",
			locale: "de",
			key:    "ESTIMATED_PRICE.ok",
			params: map[string]any{"price": "9k"},
			want:   "Estimated buy-back price 9k",
		},
		{
			name:   "unknown key renders raw",
			locale: "fr",
			key:    "NOPE.key",
			want:   "NOPE.key",
		},
		{
			name:   "missing param stays visible",
			locale: "en",
			key:    "CAR_AGE.ok",
			params: map[string]any{"age": 3},
			want:   "Car is 3 years old (maximum {max})",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Render(WithLocale(ctx, tt.locale), tt.key, tt.params)
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	t.Run("no locale in context", func(t *testing.T) {
		got := c.Render(ctx, "DEPRECIATION.none", nil)
		if got != "No depreciation without a mileage benchmark" {
			t.Errorf("unexpected message %q", got)
		}
	})
}

func TestCatalogsComplete(t *testing.T) {
	c := MustLoad("en")
	en := c.messages["en"]
	for _, locale := range c.Locales() {
		for key := range en {
			if _, ok := c.messages[locale][key]; !ok {
				t.Errorf("locale %s misses key %s", locale, key)
			}
		}
	}
	if len(c.Locales()) != 3 {
		t.Errorf("expected en, fr and nl catalogs, got %v", c.Locales())
	}
}

func TestMatch(t *testing.T) {
	c := MustLoad("en")

	tests := []struct {
		header string
		want   string
	}{
		{"nl-BE,nl;q=0.9,en;q=0.8", "nl"},
		{"fr", "fr"},
		{"de-DE,fr;q=0.5", "fr"},
		{"de", "en"},
		{"", "en"},
		{"*", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := c.Match(tt.header); got != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"msgs/en.yaml":   {Data: []byte("GREETING: \"Hello {name}\"\n")},
		"msgs/notes.txt": {Data: []byte("ignored")},
	}

	c, err := LoadFS(fsys, "msgs", "en")
	if err != nil {
		t.Fatalf("LoadFS failed: %v", err)
	}
	if got := c.Render(context.Background(), "GREETING", map[string]any{"name": "Ana"}); got != "Hello Ana" {
		t.Errorf("unexpected message %q", got)
	}

	if _, err := LoadFS(fsys, "msgs", "nl"); err == nil {
		t.Error("expected error for missing fallback catalog")
	}

	bad := fstest.MapFS{"msgs/en.yaml": {Data: []byte("- not\n- a map\n")}}
	if _, err := LoadFS(bad, "msgs", "en"); err == nil {
		t.Error("expected parse error")
	}
}
