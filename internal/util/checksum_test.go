package util

import (
	"strings"
	"testing"
)

func TestSHA256Reader(t *testing.T) {
	sum, n, err := SHA256Reader(strings.NewReader("abc"))
	if err != nil {
		t.Fatalf("SHA256Reader: %v", err)
	}
	if n != 3 {
		t.Errorf("size = %d, want 3", n)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if sum != want {
		t.Errorf("sum = %s, want %s", sum, want)
	}
}
