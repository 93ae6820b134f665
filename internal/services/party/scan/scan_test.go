package scan

import (
	"testing"
	"time"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		want    Payload
		wantErr bool
	}{
		{raw: "ch-12", want: Payload{ChallengeID: "ch-12"}},
		{raw: "  questparty://challenge/river_3\n", want: Payload{ChallengeID: "river_3"}},
		{raw: "OFFLINE", want: Payload{Offline: true}},
		{raw: "offline", want: Payload{Offline: true}},
		{raw: "", wantErr: true},
		{raw: "https://example.com", wantErr: true},
		{raw: "has space", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.raw)
		if tt.wantErr {
			if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
				t.Fatalf("Parse(%q) err = %v, want invalid argument", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(time.Second)
	start := time.Unix(100, 0)

	if !d.Accept("a", start) {
		t.Fatal("first scan rejected")
	}
	if d.Accept("b", start.Add(10*time.Millisecond)) {
		t.Fatal("scan accepted while a lookup is in flight")
	}
	d.Done()
	if d.Accept("a", start.Add(500*time.Millisecond)) {
		t.Fatal("repeat within window accepted")
	}
	if !d.Accept("b", start.Add(600*time.Millisecond)) {
		t.Fatal("different code rejected")
	}
	d.Done()
	if !d.Accept("b", start.Add(1700*time.Millisecond)) {
		t.Fatal("repeat after window rejected")
	}
}
