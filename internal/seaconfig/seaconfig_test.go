package seaconfig

import "testing"

func TestReadOutputPath(t *testing.T) {
	cases := []struct {
		name    string
		json    string
		want    string
		wantErr bool
	}{
		{"simple", `{"main": "app.js", "output": "app.blob"}`, "app.blob", false},
		{"whitespace", `{ "output" :   "nested/app.blob" }`, "nested/app.blob", false},
		{"escaped quote in other field", `{"main": "a\"b.js", "output": "app.blob"}`, "app.blob", false},
		{"missing output", `{"main": "app.js"}`, "", true},
		{"absolute path rejected", `{"output": "/etc/passwd"}`, "", true},
		{"traversal rejected", `{"output": "../../etc/passwd"}`, "", true},
		{"windows absolute rejected", `{"output": "C:\\evil.blob"}`, "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ReadOutputPath([]byte(c.json))
			if c.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got path %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadOutputPath: %v", err)
			}
			if got != c.want {
				t.Fatalf("ReadOutputPath = %q, want %q", got, c.want)
			}
		})
	}
}

func TestReadOutputPathSizeCap(t *testing.T) {
	big := make([]byte, MaxConfigSize+1)
	if _, err := ReadOutputPath(big); err == nil {
		t.Fatal("expected an error for oversized config")
	}
}

func TestReadOutputPathDepthCap(t *testing.T) {
	var sb []byte
	for i := 0; i < MaxDepth+5; i++ {
		sb = append(sb, '[')
	}
	if _, err := ReadOutputPath(sb); err == nil {
		t.Fatal("expected a depth-cap error")
	}
}
