package render

import "strings"

const currencyFlower = "$Flower"

// auctionDetails is the decoded "endAt|amount|ingredientsJSON" triple.
// Each field is optional; ok flags say whether it parsed.
type auctionDetails struct {
	endAt       int64
	endAtOK     bool
	amount      int64
	amountOK    bool
	ingredients string
}

func parseAuctionDetails(details string) auctionDetails {
	var d auctionDetails
	parts := splitDetails(details, 3)
	if len(parts) > 0 {
		d.endAt, d.endAtOK = parseMillis(parts[0])
	}
	if len(parts) > 1 {
		d.amount, d.amountOK = parseMillis(parts[1])
	}
	if len(parts) > 2 {
		d.ingredients = parts[2]
	}
	return d
}

// ingredientCurrency scans the ingredients JSON text for a known currency key.
// It is a substring match on the quoted key, not a JSON decode, so fragments
// still resolve.
func ingredientCurrency(ingredients string) (string, bool) {
	if ingredients == "" {
		return "", false
	}
	for _, key := range []string{IconGem, IconPetCookie} {
		if strings.Contains(ingredients, `"`+key+`"`) {
			return key, true
		}
	}
	return "", false
}

// auctionCurrency names what the auction is paid in: any positive amount is
// $Flower, otherwise the first known ingredient, otherwise Gem.
func auctionCurrency(details string) string {
	d := parseAuctionDetails(details)
	if !d.amountOK {
		return IconGem
	}
	if d.amount > 0 {
		return currencyFlower
	}
	if c, ok := ingredientCurrency(d.ingredients); ok {
		return c
	}
	return IconGem
}

// auctionIcon picks the auction icon key. An amount of exactly 1 is the
// Flower Token; note that this differs from auctionCurrency, where any
// positive amount is $Flower.
func auctionIcon(details string) string {
	d := parseAuctionDetails(details)
	if !d.amountOK {
		return IconGem
	}
	if d.amount == 1 {
		return IconFlowerToken
	}
	if c, ok := ingredientCurrency(d.ingredients); ok {
		return c
	}
	return IconGem
}
