package scanning

import (
	"fmt"
	"strings"
)

const extractionSystemPrompt = "You are an expert at reading shopping receipts and order screenshots. You must carefully read every line and extract accurate item information."

// buildPrompt returns the single instruction sent with every receipt image
func buildPrompt(storeHint string) string {
	storeHint = NormalizeStoreHint(storeHint)

	var storeLine string
	if storeHint != "" {
		storeLine = fmt.Sprintf("This receipt is from %s. Set \"store\" to %q for every item.", storeHint, storeHint)
	} else {
		storeLine = fmt.Sprintf("Guess the store name if visible, otherwise use %q.", UnknownStore)
	}

	names := make([]string, 0, len(Categories))
	for _, c := range Categories {
		names = append(names, string(c))
	}

	var b strings.Builder
	b.WriteString("Analyze this receipt/shopping screenshot carefully. Extract ALL items purchased.\n\n")
	b.WriteString("For each item return a JSON array with objects containing:\n")
	b.WriteString("- name: clean product name (e.g. 'Whole Milk', 'Tide Pods', 'Bananas')\n")
	b.WriteString("- description: brief description of the product (1 sentence)\n")
	b.WriteString("- price: numeric price as a float (just the number, no $ sign). If not visible use 0.\n")
	fmt.Fprintf(&b, "- category: MUST be one of exactly: %s\n", strings.Join(names, ", "))
	for _, c := range Categories {
		fmt.Fprintf(&b, "  - %s: %s\n", c, categoryGuidance[c])
	}
	fmt.Fprintf(&b, "- store: %s\n\n", storeLine)
	b.WriteString("Return ONLY a valid JSON array, no markdown, no explanation. Example:\n")
	b.WriteString(`[{"name":"Whole Milk","description":"1 gallon whole milk","price":3.99,"category":"Fridge","store":"Kroger"}]`)
	return b.String()
}
