package concept

import (
	"strings"
)

// ParseIngredientNames extracts ingredient names from a drug's raw name when
// neither the history record nor related concepts yield any. Clinical drug
// names put ingredients before the first strength token
// ("Brompheniramine 2 MG/ML / Phenylephrine 0.25 MG/ML Oral Solution");
// pack names wrap their components in braces
// ("{7 (lamotrigine 100 MG Tablet) / ...}").
func ParseIngredientNames(tty, rawName string) []string {
	name := strings.TrimSpace(rawName)
	if name == "" {
		return nil
	}

	var components []string
	if (tty == "GPCK" || tty == "BPCK") && strings.HasPrefix(name, "{") {
		components = splitPackComponents(name)
	} else {
		components = strings.Split(name, " / ")
	}

	var ingredients []string
	for _, comp := range components {
		if ing := ingredientFromDrugName(comp); ing != "" {
			ingredients = append(ingredients, ing)
		}
	}
	return ingredients
}

// splitPackComponents unwraps pack syntax: the brace-wrapped body holds
// parenthesized components, each optionally preceded by a count.
func splitPackComponents(name string) []string {
	end := strings.IndexByte(name, '}')
	if end <= 0 {
		return nil
	}
	body := name[1:end]

	var components []string
	for _, part := range strings.Split(body, ")") {
		part = strings.TrimSpace(part)
		part = strings.TrimSpace(strings.TrimPrefix(part, "/"))
		if part == "" {
			continue
		}
		// Drop the leading pack count, e.g. "7 (lamotrigine ...".
		if fields := strings.Fields(part); len(fields) > 0 && isDigits(fields[0]) {
			part = strings.Join(fields[1:], " ")
		}
		part = strings.TrimSpace(strings.TrimPrefix(part, "("))
		if part == "" {
			continue
		}
		for _, comp := range strings.Split(part, " / ") {
			if comp = strings.TrimSpace(comp); comp != "" {
				components = append(components, comp)
			}
		}
	}
	return components
}

// ingredientFromDrugName truncates one component at its first strength token:
// "lamotrigine 100 MG Extended Release Tablet" -> "lamotrigine". Extended
// release prefixes ("24 HR ", "12 HR ") are stripped first so the duration
// number is not mistaken for a strength.
func ingredientFromDrugName(name string) string {
	name = strings.TrimSpace(name)
	for _, prefix := range []string{"24 HR ", "12 HR "} {
		if strings.HasPrefix(name, prefix) {
			name = strings.TrimSpace(name[len(prefix):])
		}
	}

	words := strings.Fields(name)
	for i, w := range words {
		if isDigits(strings.ReplaceAll(w, ".", "")) {
			return strings.Join(words[:i], " ")
		}
	}
	return strings.Join(words, " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
