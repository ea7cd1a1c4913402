package util

import (
	"reflect"
	"testing"
)

func TestNormalizeSymbols(t *testing.T) {
	got := NormalizeSymbols([]string{" btcusdt", "ETHUSDT", "", "BTCUSDT", "solusdt "})
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestContainsFold(t *testing.T) {
	if !ContainsFold("BTCUSDT", "btc") {
		t.Fatalf("expected match")
	}
	if ContainsFold("ETHUSDT", "btc") {
		t.Fatalf("unexpected match")
	}
	if !ContainsFold("ETHUSDT", "") {
		t.Fatalf("empty search matches everything")
	}
}

func TestParseIntDefault(t *testing.T) {
	if ParseIntDefault("x", 7) != 7 || ParseIntDefault("", 3) != 3 || ParseIntDefault("12", 0) != 12 {
		t.Fatalf("unexpected parse results")
	}
}
