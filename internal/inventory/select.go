package inventory

// SelectAvailable restricts every category of m to the items in chosen.
// Categories left empty are dropped; category and item order follow m.
func SelectAvailable(m CategoryMap, chosen []string) CategoryMap {
	set := make(map[string]struct{}, len(chosen))
	for _, c := range chosen {
		set[c] = struct{}{}
	}

	out := CategoryMap{}
	for _, c := range m {
		var kept []string
		for _, ing := range c.Ingredients {
			if _, ok := set[ing]; ok {
				kept = append(kept, ing)
			}
		}
		if len(kept) > 0 {
			out = append(out, Category{Name: c.Name, Ingredients: kept})
		}
	}
	return out
}
