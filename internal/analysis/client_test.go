package analysis

import (
	"strings"
	"testing"
)

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("Focus on color palettes.", "run1", 40, []string{"111", "222", "333"}, 7)

	for _, want := range []string{
		"Run ID: run1",
		"Total ads in dataset: 40",
		"111, 222, 333",
		"Focus on color palettes.",
		"Analyze the following 7 images:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	// rank order preserved in the id enumeration
	if strings.Index(prompt, "111") > strings.Index(prompt, "222") {
		t.Error("ad ids out of rank order")
	}
}

func TestBuildPromptDefaultTemplate(t *testing.T) {
	prompt := BuildPrompt("   ", "run1", 1, []string{"111"}, 1)
	if !strings.Contains(prompt, "Analyze these social media ads") {
		t.Errorf("blank template should fall back to the built-in prompt:\n%s", prompt)
	}
}
