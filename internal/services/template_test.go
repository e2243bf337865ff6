package services

import "testing"

func TestInterpolate(t *testing.T) {
	vars := map[string]interface{}{
		"client_name": "Acme Plumbing",
		"revenue":     450.0,
		"quantity":    3.5,
		"job": map[string]interface{}{
			"status": "done",
		},
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "no tokens here", "no tokens here"},
		{"empty", "", ""},
		{"simple", "Hello {{client_name}}", "Hello Acme Plumbing"},
		{"spaced token", "Hello {{ client_name }}", "Hello Acme Plumbing"},
		{"whole float renders as int", "Revenue: {{revenue}}", "Revenue: 450"},
		{"fractional float keeps decimals", "Qty: {{quantity}}", "Qty: 3.5"},
		{"nested path", "Job is {{job.status}}", "Job is done"},
		{"unresolved left verbatim", "Hi {{client_name}}, id {{missing}}", "Hi Acme Plumbing, id {{missing}}"},
		{"unresolved nested", "{{job.missing.deep}}", "{{job.missing.deep}}"},
		{"multiple tokens", "{{client_name}}: {{job.status}}", "Acme Plumbing: done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Interpolate(tt.in, vars); got != tt.want {
				t.Errorf("Interpolate(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLookupPath(t *testing.T) {
	vars := map[string]interface{}{
		"a": map[string]interface{}{
			"b": map[string]interface{}{"c": 1},
		},
		"s": "leaf",
	}

	if v, ok := LookupPath(vars, "a.b.c"); !ok || v != 1 {
		t.Errorf("a.b.c = %v, %v", v, ok)
	}
	if _, ok := LookupPath(vars, "a.b.x"); ok {
		t.Error("missing leaf should not resolve")
	}
	if _, ok := LookupPath(vars, "s.child"); ok {
		t.Error("descending through a non-map should not resolve")
	}
	if _, ok := LookupPath(nil, "a"); ok {
		t.Error("nil vars should not resolve")
	}
	if _, ok := LookupPath(vars, ""); ok {
		t.Error("empty path should not resolve")
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{42.0, "42"},
		{42.5, "42.5"},
		{7, "7"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := Stringify(tt.in); got != tt.want {
			t.Errorf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToFloat(t *testing.T) {
	if v, ok := ToFloat("12.5"); !ok || v != 12.5 {
		t.Errorf("string parse = %v, %v", v, ok)
	}
	if v, ok := ToFloat(" 3 "); !ok || v != 3 {
		t.Errorf("trimmed string parse = %v, %v", v, ok)
	}
	if _, ok := ToFloat("abc"); ok {
		t.Error("non-numeric string should not coerce")
	}
	if v, ok := ToFloat(4); !ok || v != 4 {
		t.Errorf("int coerce = %v, %v", v, ok)
	}
	if _, ok := ToFloat(nil); ok {
		t.Error("nil should not coerce")
	}
}
