package format

import "testing"

func TestDuration(t *testing.T) {
	cases := map[float64]string{
		0:      "0:00",
		59.9:   "0:59",
		61:     "1:01",
		3600:   "1:00:00",
		3725:   "1:02:05",
		-4:     "0:00",
		7325.5: "2:02:05",
	}
	for in, want := range cases {
		if got := Duration(in); got != want {
			t.Errorf("Duration(%v) = %q, want %q", in, got, want)
		}
	}
}
