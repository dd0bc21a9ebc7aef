package critique

import "strings"

// deterministic computes the rule-based rubric score for a stage output.
// This portion is always computed and is sufficient on its own when the
// judged assessment is skipped or fails.
func (g *Gate) deterministic(out Output) Judgement {
	j := Judgement{Subscores: make(map[string]float64)}

	switch out.Stage {
	case StageClassification:
		g.scoreClassification(out, &j)
	case StageEvidence:
		g.scoreEvidence(out, &j)
	case StageDraft:
		g.scoreDraft(out, &j)
	}

	for _, v := range j.Subscores {
		j.ScoreOverall += v
	}
	return j
}

func (g *Gate) scoreClassification(out Output, j *Judgement) {
	if out.Category != "" {
		j.Subscores["category_present"] = 4
	} else {
		j.Issues = append(j.Issues, "no category assigned")
		j.FixSuggestions = append(j.FixSuggestions, "assign one of the allowed categories")
	}

	if g.categoryAllowed(out.Category) {
		j.Subscores["category_allowed"] = 3
	} else if out.Category != "" {
		j.Issues = append(j.Issues, "category not in the allowed set")
		j.FixSuggestions = append(j.FixSuggestions, "pick a category from the allowed set")
	}

	if out.Confidence > 0 {
		j.Subscores["confidence_reported"] = 3
	} else {
		j.Issues = append(j.Issues, "no confidence reported")
	}
}

func (g *Gate) scoreEvidence(out Output, j *Judgement) {
	if len(out.Evidence) > 0 {
		j.Subscores["has_evidence"] = 5
	} else {
		j.Issues = append(j.Issues, "no evidence gathered")
		j.FixSuggestions = append(j.FixSuggestions, "cite at least one concrete observation")
	}

	if !hasDuplicates(out.Evidence) {
		j.Subscores["no_duplicates"] = 2
	} else {
		j.Issues = append(j.Issues, "duplicate evidence entries")
	}

	substantive := 0
	for _, e := range out.Evidence {
		if len(strings.TrimSpace(e)) >= 10 {
			substantive++
		}
	}
	if len(out.Evidence) > 0 && substantive == len(out.Evidence) {
		j.Subscores["substantive"] = 3
	} else if len(out.Evidence) > 0 {
		j.Issues = append(j.Issues, "some evidence entries are too thin to act on")
	}
}

func (g *Gate) scoreDraft(out Output, j *Judgement) {
	draft := strings.TrimSpace(out.Draft)
	if draft != "" {
		j.Subscores["non_empty"] = 3
	} else {
		j.Issues = append(j.Issues, "draft is empty")
		j.FixSuggestions = append(j.FixSuggestions, "produce a draft response")
		return
	}

	// A trustworthy draft points back at something concrete: gathered
	// evidence or the assigned category.
	grounded := out.Category != "" && strings.Contains(strings.ToLower(draft), strings.ToLower(out.Category))
	for _, e := range out.Evidence {
		if e != "" && strings.Contains(draft, e) {
			grounded = true
			break
		}
	}
	if grounded {
		j.Subscores["references_evidence"] = 4
	} else {
		j.Issues = append(j.Issues, "draft does not reference gathered evidence or category")
		j.FixSuggestions = append(j.FixSuggestions, "tie the draft to at least one finding")
	}

	if len(draft) >= 80 && len(draft) <= 4000 {
		j.Subscores["reasonable_length"] = 3
	} else if len(draft) < 80 {
		j.Issues = append(j.Issues, "draft is too short to be useful")
	} else {
		j.Issues = append(j.Issues, "draft is too long for an issue comment")
		j.FixSuggestions = append(j.FixSuggestions, "tighten the draft")
	}
}

func (g *Gate) categoryAllowed(category string) bool {
	if category == "" {
		return false
	}
	if len(g.allowedCategories) == 0 {
		return true
	}
	for _, c := range g.allowedCategories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

func hasDuplicates(items []string) bool {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		key := strings.ToLower(strings.TrimSpace(it))
		if _, ok := seen[key]; ok {
			return true
		}
		seen[key] = struct{}{}
	}
	return false
}
