package prompts

import (
	"strings"
	"testing"
)

func TestNexusSystemPrompt(t *testing.T) {
	got := NexusSystemPrompt([]ToolLine{
		{Name: "abacus", Description: "math"},
		{Name: "seeker", Description: "search"},
	})

	for _, want := range []string{
		"<tool><name>abacus</name><description>math</description></tool>",
		"<tool><name>seeker</name>",
		"You are Nexus",
		"Never end without an answer",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if strings.Contains(got, "%!") {
		t.Error("system prompt has a formatting error")
	}
}

func TestNexusSystemPrompt_NoTools(t *testing.T) {
	if got := NexusSystemPrompt(nil); !strings.Contains(got, "no tools are available") {
		t.Error("expected placeholder for empty catalog")
	}
}

func TestCondensationPrompt(t *testing.T) {
	got := CondensationPrompt("", "long text")
	if !strings.Contains(got, DefaultCondensationQuery) {
		t.Error("empty query should use the placeholder")
	}
	if !strings.Contains(got, "---\nlong text\n---") {
		t.Error("text not fenced in prompt")
	}

	got = CondensationPrompt("gdp of france", "x")
	if !strings.Contains(got, "'gdp of france'") || strings.Contains(got, DefaultCondensationQuery) {
		t.Errorf("query not interpolated: %s", got)
	}
}

func TestExtractionPrompt(t *testing.T) {
	got := ExtractionPrompt(`{"type":"object"}`, "Alice is 30")
	if !strings.Contains(got, `{"type":"object"}`) || !strings.Contains(got, "---TEXT---\nAlice is 30\n---END TEXT---") {
		t.Errorf("ExtractionPrompt = %s", got)
	}
}

func TestSearchSynthesisPrompt(t *testing.T) {
	got := SearchSynthesisPrompt("who?", "1. A")
	if !strings.Contains(got, "Question: who?") || !strings.Contains(got, "1. A") {
		t.Errorf("SearchSynthesisPrompt = %s", got)
	}
}
