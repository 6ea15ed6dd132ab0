package abacus

import (
	"context"
	"math"
	"strings"
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2+2", "2.0+2.0"},
		{"$1,234.56 + ￥500", "1234.56+500.0"},
		{"3.21万亿 * 0.05", "3.21e+12*0.05"},
		{"2亿 / 4万", "2e+08/40000.0"},
		{"1.5 Million - 500 thousand", "1.5e+06-500000.0"},
		{"7 billion", "7e+09"},
		{"(10 - 4) * 3", "(10.0-4.0)*3.0"},
		{"１２ × ３", "12.0*3.0"},
		{"（８０ ÷ ４）", "(80.0/4.0)"},
		{"no numbers here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		expr    string
		want    float64
		wantErr string
	}{
		{expr: "2+2", want: 4},
		{expr: "7/2", want: 3.5},
		{expr: "-3 * (2 + 1)", want: -9},
		{expr: "3.21万亿 * 0.05", want: 1.605e11},
		{expr: "($1,234.56 + ￥500) / 2", want: 867.28},
		{expr: "2 billion / 1 million", want: 2000},
		{expr: "1/0", wantErr: "not finite"},
		{expr: "hello", wantErr: "no arithmetic expression"},
		{expr: "2 +* 3", wantErr: "cannot parse"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := a.Evaluate(context.Background(), tt.expr)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Evaluate(%q) error = %v, want containing %q", tt.expr, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate(%q) = %v", tt.expr, err)
			}
			if math.Abs(got-tt.want) > 1e-6*math.Max(1, math.Abs(tt.want)) {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestInvoke(t *testing.T) {
	a, _ := New()
	out, err := a.Invoke(context.Background(), map[string]any{"expression": "2+2"})
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	if m["result"] != 4.0 || m["original_expression"] != "2+2" {
		t.Errorf("Invoke = %v", m)
	}
}
