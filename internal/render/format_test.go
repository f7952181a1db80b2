package render

import (
	"strings"
	"testing"
	"time"
)

func TestFormatCountAndName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		count int
		name  string
		want  string
	}{
		{1, "Sunflower", "1 Sunflower"},
		{3, "Sunflower", "3 Sunflowers"},
		{2, "Cookies", "2 Cookies"},
		{0, "Egg", "0 Egg"},
		{4, "", "4"},
	}
	for _, tt := range tests {
		if got := FormatCountAndName(tt.count, tt.name); got != tt.want {
			t.Fatalf("FormatCountAndName(%d, %q) = %q, want %q", tt.count, tt.name, got, tt.want)
		}
	}
}

func TestFormatEndTime(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)
	if got := FormatEndTime(at.UnixMilli(), time.UTC); got != "2:30 PM" {
		t.Fatalf("FormatEndTime = %q, want 2:30 PM", got)
	}
	tz := time.FixedZone("UTC+2", 2*60*60)
	if got := FormatEndTime(at.UnixMilli(), tz); got != "4:30 PM" {
		t.Fatalf("FormatEndTime in UTC+2 = %q, want 4:30 PM", got)
	}
	if got := FormatEndTime(0, time.UTC); got != "later" {
		t.Fatalf("FormatEndTime(0) = %q, want later", got)
	}
	if got := FormatEndTime(2000, nil); !strings.HasSuffix(got, "M") {
		t.Fatalf("FormatEndTime with nil location = %q", got)
	}
}

func TestFlowerAmount(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"6.9999 SFL": "6.9999 $Flower",
		" 12 SFL ":   "12 $Flower",
		"3":          "3 $Flower",
	}
	for in, want := range tests {
		if got := flowerAmount(in); got != want {
			t.Fatalf("flowerAmount(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAuctionDerivations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		details  string
		currency string
		icon     string
	}{
		{"1700000000000|1|{}", "$Flower", IconFlowerToken},
		{"1700000000000|2|{}", "$Flower", IconGem},
		{`1700000000000|2|{"Pet Cookie":1}`, "$Flower", IconPetCookie},
		{`1700000000000|0|{"Gem":3}`, IconGem, IconGem},
		{`1700000000000|0|{"Pet Cookie":3}`, IconPetCookie, IconPetCookie},
		{`1700000000000|0|{"Gem":1,"Pet Cookie":3}`, IconGem, IconGem},
		{"1700000000000|abc|{}", IconGem, IconGem},
		{"1700000000000", IconGem, IconGem},
		{"", IconGem, IconGem},
	}
	for _, tt := range tests {
		if got := auctionCurrency(tt.details); got != tt.currency {
			t.Fatalf("auctionCurrency(%q) = %q, want %q", tt.details, got, tt.currency)
		}
		if got := auctionIcon(tt.details); got != tt.icon {
			t.Fatalf("auctionIcon(%q) = %q, want %q", tt.details, got, tt.icon)
		}
	}
}
