package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"Compare-At Price": "compareatprice",
		"compare_at_price": "compareatprice",
		" SKU ":            "sku",
		"Größe":            "größe",
		"":                 "",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Fatalf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" oud, musk ;;rose| ")
	want := []string{"oud", "musk", "rose"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitList = %v, want %v", got, want)
	}
	if SplitList(" , ") != nil {
		t.Fatal("expected nil for empty list")
	}
}

func TestNormalizeStringMap(t *testing.T) {
	got := NormalizeStringMap(map[string]string{" orderId ": " ord_1 ", "  ": "x"})
	if len(got) != 1 || got["orderId"] != "ord_1" {
		t.Fatalf("unexpected map %v", got)
	}
	if NormalizeStringMap(map[string]string{" ": "x"}) != nil {
		t.Fatal("expected nil when all keys are empty")
	}
}
