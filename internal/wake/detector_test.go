package wake

import (
	"sync"
	"testing"
)

func TestDetect_SubstringAlwaysMatches(t *testing.T) {
	// A literal substring must match regardless of how strict the threshold is.
	d := NewDetector([]string{"hey logic"}, 1.0)

	cases := []string{
		"hey logic start",
		"Hey Logic, start recording",
		"okay hey logic bitte",
		"HEY LOGIC!",
	}
	for _, text := range cases {
		if !d.Detect(text) {
			t.Errorf("substring case %q not detected", text)
		}
	}
}

func TestDetect_Scenarios(t *testing.T) {
	d := NewDetector([]string{"hey logic"}, 0.6)

	tests := []struct {
		text string
		want bool
	}{
		{"hey logic start", true},
		{"Hallo Logic, wie geht's?", false}, // different phrase, not in set
		{"hey logik starte auf", true},      // fuzzy word-level match
		{"das ist ein test", false},
		{"", false},
		{"...!!!", false},
	}
	for _, tt := range tests {
		if got := d.Detect(tt.text); got != tt.want {
			t.Errorf("Detect(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestDetect_DefaultPhrases(t *testing.T) {
	d := NewDetector(nil, 0.6)

	for _, text := range []string{
		"Computer, öffne das Projekt",
		"hallo logic",
		"aufnahme starten bitte",
	} {
		if !d.Detect(text) {
			t.Errorf("default phrase set missed %q", text)
		}
	}
	if d.Detect("spiele musik") {
		t.Error("default phrase set matched unrelated text")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hey Logic!", "hey logic"},
		{"  viele   spaces  ", "viele spaces"},
		{"punkt. komma, strich-", "punkt komma strich"},
		{"schon normal", "schon normal"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, s := range []string{"Hey, Logic!", "AUFNAHME starten...", "ümläute sind ok"} {
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent: %q -> %q -> %q", s, once, twice)
		}
	}
}

func TestSimilarity_Bounds(t *testing.T) {
	pairs := [][2]string{
		{"hey logic", "hey logic"},
		{"hey logic", "something else entirely"},
		{"a", ""},
		{"", ""},
		{"logic", "logik"},
	}
	for _, p := range pairs {
		s := Similarity(p[0], p[1])
		if s < 0 || s > 1 {
			t.Errorf("Similarity(%q, %q) = %f out of [0,1]", p[0], p[1], s)
		}
	}
	if Similarity("abc", "abc") != 1 {
		t.Error("identical strings must score 1")
	}
	if Similarity("logic", "logik") < 0.7 {
		t.Error("one-letter difference should score high")
	}
}

func TestRuntimeMutation(t *testing.T) {
	d := NewDetector([]string{"hey logic"}, 0.9)

	if d.Detect("jarvis aufwachen") {
		t.Fatal("unexpected match before adding phrase")
	}
	d.AddPhrase("jarvis")
	if !d.Detect("jarvis aufwachen") {
		t.Error("added phrase not detected")
	}

	d.AddPhrase("jarvis") // duplicate is a no-op
	if got := len(d.Phrases()); got != 2 {
		t.Errorf("expected 2 phrases, got %d", got)
	}

	if !d.RemovePhrase("jarvis") {
		t.Error("failed to remove phrase")
	}
	if d.RemovePhrase("hey logic") {
		t.Error("removed the last phrase; set must stay non-empty")
	}
	if got := len(d.Phrases()); got != 1 {
		t.Errorf("expected 1 phrase, got %d", got)
	}
}

func TestSetThreshold_Clamps(t *testing.T) {
	d := NewDetector([]string{"hey logic"}, 0.6)

	d.SetThreshold(2.0)
	if d.Detect("hey logic bitte") != true {
		t.Error("substring must match even at threshold 1")
	}

	d.SetThreshold(-1)
	// Threshold 0 means any fuzzy score passes for non-empty text.
	if !d.Detect("xyz") {
		t.Error("threshold 0 should match anything non-empty")
	}
}

func TestConcurrentDetectAndMutation(t *testing.T) {
	d := NewDetector([]string{"hey logic", "computer", "aufnahme starten"}, 0.8)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			d.Detect("hey logic bitte aufnahme starten")
			d.Phrases()
		}
	}()

	// Mutate the phrase set while detection is running, as the control
	// socket does at runtime.
	for i := 0; i < 200; i++ {
		d.AddPhrase("hallo logik")
		d.RemovePhrase("hallo logik")
		d.SetThreshold(0.6)
	}

	close(stop)
	wg.Wait()

	if !d.Detect("hey logic") {
		t.Error("detector broken after concurrent mutation")
	}
}
