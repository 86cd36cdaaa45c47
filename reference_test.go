package refconf

import "testing"

func TestDetectReference(t *testing.T) {
	tests := []struct {
		name          string
		value         Value
		marker        string
		wantRemainder string
		wantOK        bool
	}{
		{"default marker", StringValue("$FILE db.yml"), DefaultMarker, "db.yml", true},
		{"absolute path", StringValue("$FILE /etc/app.json"), DefaultMarker, "/etc/app.json", true},
		{"marker without trailing space", StringValue("$FILEdb.yml"), DefaultMarker, "$FILEdb.yml", false},
		{"case sensitive", StringValue("$file db.yml"), DefaultMarker, "$file db.yml", false},
		{"marker not at start", StringValue("see $FILE db.yml"), DefaultMarker, "see $FILE db.yml", false},
		{"plain string", StringValue("localhost"), DefaultMarker, "localhost", false},
		{"empty string", StringValue(""), DefaultMarker, "", false},
		{"marker only", StringValue("$FILE "), DefaultMarker, "", true},
		{"custom marker", StringValue("@include:x.yml"), "@include:", "x.yml", true},
		{"non-string", IntValue(5), DefaultMarker, "", false},
		{"mapping", mapping("a", "$FILE x"), DefaultMarker, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remainder, ok := DetectReference(tt.value, tt.marker)
			if ok != tt.wantOK {
				t.Errorf("DetectReference(%s, %q) ok = %v, want %v", tt.value, tt.marker, ok, tt.wantOK)
			}
			if remainder != tt.wantRemainder {
				t.Errorf("DetectReference(%s, %q) remainder = %q, want %q", tt.value, tt.marker, remainder, tt.wantRemainder)
			}
		})
	}
}
