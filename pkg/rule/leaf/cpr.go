// Package leaf implements the concrete SimpleRule leaves: regex, CPR,
// last-modified, image dimensions, and the Always/Never/Buggy dummies.
package leaf

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

func init() {
	rule.RegisterType("cpr", cprFromJSON)
}

var cprCandidate = regexp.MustCompile(`\b(\d{6})([-\s]?)(\d{4})\b`)

var modulus11Weights = [10]int{4, 3, 2, 7, 6, 5, 4, 3, 2, 1}

// CPRRule matches Danish CPR (civil registration) numbers: a 10-digit
// DDMMYY-SSSS form whose date decodes to a real, non-future birth date and,
// unless the date falls in the modulus-11 exception set, whose digits pass
// the modulus-11 check.
type CPRRule struct {
	// IgnoreIrrelevant suppresses matches whose decoded birth year falls
	// in the oldest (1858-1899) century band: CPRs that old are
	// vanishingly unlikely to belong to a living person and are usually
	// noise (serial numbers, IDs) that happen to parse as a CPR.
	IgnoreIrrelevant bool

	// ExamineContext runs the contextual bin filter over the whole
	// document before reporting matches, discarding isolated candidates.
	// Defaults to true; the published filter constants are honoured
	// exactly (40 bins, 0.15 acceptance cutoff).
	ExamineContext bool

	// Modulus11 enables the modulus-11 check (outside the exception
	// date set, where it is always skipped). Some organisations disable
	// it entirely because modern CPRs are no longer guaranteed to
	// satisfy it; when false every form- and date-valid candidate is
	// accepted.
	Modulus11 bool

	sensitivity rule.Sensitivity
	name        string

	probCacheMu sync.Mutex
	probCache   map[string]int
}

// NewCPRRule builds a CPRRule with the contextual bin filter on by default.
func NewCPRRule(ignoreIrrelevant, modulus11 bool) *CPRRule {
	return &CPRRule{
		IgnoreIrrelevant: ignoreIrrelevant,
		ExamineContext:   true,
		Modulus11:        modulus11,
		sensitivity:      rule.Critical,
		probCache:        make(map[string]int),
	}
}

func (r *CPRRule) Sensitivity() rule.Sensitivity { return r.sensitivity }
func (r *CPRRule) Name() string                  { return r.name }
func (r *CPRRule) OperatesOn() rule.OutputType    { return rule.Text }

func (r *CPRRule) Split() (rule.SimpleRule, rule.Residue, rule.Residue) {
	return rule.SimpleSplit(r)
}

type candidate struct {
	digits string // the 10 bare digits, no separator
	offset int
	context string
}

// Match scans content (a string; any other type is an error) for CPR
// candidates, applies form/date/modulus-11 validation, the
// contextual bin filter, and reports a probability per surviving match.
func (r *CPRRule) Match(content any) ([]rule.MatchFragment, error) {
	text, ok := content.(string)
	if !ok {
		return nil, fmt.Errorf("leaf: CPRRule requires string content, got %T", content)
	}

	candidates := scanCandidates(text)
	if len(candidates) == 0 {
		return nil, nil
	}

	valid := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if r.isLegal(c.digits) {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}

	if r.ExamineContext {
		valid = filterByContext(candidates, valid)
	}

	fragments := make([]rule.MatchFragment, 0, len(valid))
	for _, c := range valid {
		if r.IgnoreIrrelevant {
			year, _, _, _ := decodeBirthDate(c.digits)
			if year >= 1858 && year <= 1899 {
				continue
			}
		}
		prob := r.probability(c.digits)
		fragments = append(fragments, rule.MatchFragment{
			Match:       maskedCPR(c.digits),
			Offset:      c.offset,
			Context:     c.context,
			Probability: prob,
			Sensitivity: r.sensitivity,
		})
	}
	return fragments, nil
}

// maskedCPR renders "DDMMXX-XXXX": the date survives, the serial is masked.
func maskedCPR(digits string) string {
	return digits[:4] + "XX-XXXX"
}

func scanCandidates(text string) []candidate {
	locs := cprCandidate.FindAllStringSubmatchIndex(text, -1)
	out := make([]candidate, 0, len(locs))
	for _, loc := range locs {
		date := text[loc[2]:loc[3]]
		serial := text[loc[6]:loc[7]]
		start, end := loc[0], loc[1]
		ctxStart := start - 20
		if ctxStart < 0 {
			ctxStart = 0
		}
		ctxEnd := end + 20
		if ctxEnd > len(text) {
			ctxEnd = len(text)
		}
		out = append(out, candidate{
			digits:  date + serial,
			offset:  start,
			context: text[ctxStart:ctxEnd],
		})
	}
	return out
}

// isLegal reports whether digits (10 bare digits) is a form-, date- and
// (if enabled) modulus-11-valid CPR.
func (r *CPRRule) isLegal(digits string) bool {
	if len(digits) != 10 {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	if _, _, _, ok := decodeBirthDate(digits); !ok {
		return false
	}
	if !r.Modulus11 {
		return true
	}
	if isExceptionDate(digits[:6]) {
		return true
	}
	return modulus11Valid(digits)
}

// decodeBirthDate decodes DDMMYY plus the century-determining digit 7 into
// a (year, month, day) triple, applying the published year bands. It
// rejects dates that don't exist (e.g. 31 February) and birth dates in the
// future.
func decodeBirthDate(digits string) (year, month, day int, ok bool) {
	dd, err1 := strconv.Atoi(digits[0:2])
	mm, err2 := strconv.Atoi(digits[2:4])
	yy, err3 := strconv.Atoi(digits[4:6])
	d7 := int(digits[6] - '0')
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}
	century, ok := centuryFor(yy, d7)
	if !ok {
		return 0, 0, 0, false
	}
	fullYear := century + yy

	t := time.Date(fullYear, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	if t.Year() != fullYear || int(t.Month()) != mm || t.Day() != dd {
		return 0, 0, 0, false // normalised away, e.g. 31 February
	}
	if t.After(time.Now()) {
		return 0, 0, 0, false
	}
	return fullYear, mm, dd, true
}

// centuryFor implements the published year bands, one digit7 value at a
// time since each has its own boundary year: 0-3 always land in 1900;
// 4 splits at yy=36 (2000 up to it, 1900 above); 5-8 split at yy=57 (2000
// up to it, 1800 above); 9 splits at yy=37 (2000 up to it, 1900 above).
func centuryFor(yy, digit7 int) (int, bool) {
	switch digit7 {
	case 0, 1, 2, 3:
		return 1900, true
	case 4:
		if yy <= 36 {
			return 2000, true
		}
		return 1900, true
	case 5, 6, 7, 8:
		if yy <= 57 {
			return 2000, true
		}
		return 1800, true
	case 9:
		if yy <= 37 {
			return 2000, true
		}
		return 1900, true
	}
	return 0, false
}

// legalDigit7s returns the digit-7 values that are consistent with the
// decoded century for a given two-digit year, i.e. the same set
// centuryFor used to accept it.
func legalDigit7s(yy, century int) []int {
	out := make([]int, 0, 4)
	for d := 0; d <= 9; d++ {
		if c, ok := centuryFor(yy, d); ok && c == century {
			out = append(out, d)
		}
	}
	return out
}

func modulus11Valid(digits string) bool {
	sum := 0
	for i, w := range modulus11Weights {
		d := int(digits[i] - '0')
		sum += d * w
	}
	return sum%11 == 0
}

var exceptionDates = buildExceptionDates()

// buildExceptionDates enumerates the fixed closed set of Jan-1 dates
// between 1960 and 1995 (inclusive) for which the modulus-11 check is
// skipped.
func buildExceptionDates() map[string]bool {
	m := make(map[string]bool, 36)
	for year := 1960; year <= 1995; year++ {
		yy := year % 100
		m[fmt.Sprintf("0101%02d", yy)] = true
	}
	return m
}

func isExceptionDate(ddmmyy string) bool {
	return exceptionDates[ddmmyy]
}

// probability computes the confidence bucket for digits by counting every
// legal CPR that could be issued on the same calendar day (varying digit 7
// across its legal set and the trailing serial across 000-999, filtered by
// modulus-11 unless the date is an exception date) and mapping the size of
// that set to the published thresholds. Results are memoised per birth
// date since the count only depends on the date, not the serial.
func (r *CPRRule) probability(digits string) float64 {
	if isExceptionDate(digits[:6]) {
		return 0.5
	}

	dateKey := digits[:6]
	r.probCacheMu.Lock()
	count, cached := r.probCache[dateKey]
	r.probCacheMu.Unlock()

	if !cached {
		yy, _ := strconv.Atoi(digits[4:6])
		d7 := int(digits[6] - '0')
		century, _ := centuryFor(yy, d7)
		legal := legalDigit7s(yy, century)

		count = 0
		for _, d := range legal {
			for serial := 0; serial < 1000; serial++ {
				candidate := fmt.Sprintf("%s%d%03d", dateKey, d, serial)
				if !r.Modulus11 || modulus11Valid(candidate) {
					count++
				}
			}
		}

		r.probCacheMu.Lock()
		r.probCache[dateKey] = count
		r.probCacheMu.Unlock()
	}

	switch {
	case count <= 100:
		return 1.0
	case count <= 200:
		return 0.8
	case count <= 250:
		return 0.6
	case count <= 350:
		return 0.25
	default:
		return 0.1
	}
}

// filterByContext implements the contextual bin filter: partition the span
// between the first and last candidate into 40 equal bins, accept a bin iff
// it is empty or at least 15% of its candidates are valid CPRs, then keep
// only valid CPRs in an accepted bin that also has an accepted neighbour
// (a lone accepted bin counts as its own neighbour).
func filterByContext(all []candidate, valid []candidate) []candidate {
	if len(all) == 0 {
		return valid
	}
	const binCount = 40
	const cutoff = 0.15

	first, last := all[0].offset, all[0].offset
	for _, c := range all {
		if c.offset < first {
			first = c.offset
		}
		if c.offset > last {
			last = c.offset
		}
	}
	span := last - first
	if span <= 0 {
		span = 1
	}
	binOf := func(offset int) int {
		b := (offset - first) * binCount / (span + 1)
		if b >= binCount {
			b = binCount - 1
		}
		if b < 0 {
			b = 0
		}
		return b
	}

	totalPerBin := make([]int, binCount)
	validPerBin := make([]int, binCount)
	for _, c := range all {
		totalPerBin[binOf(c.offset)]++
	}
	for _, c := range valid {
		validPerBin[binOf(c.offset)]++
	}

	accepted := make([]bool, binCount)
	for i := 0; i < binCount; i++ {
		if totalPerBin[i] == 0 {
			accepted[i] = true
			continue
		}
		accepted[i] = float64(validPerBin[i])/float64(totalPerBin[i]) >= cutoff
	}

	hasAcceptedNeighbour := make([]bool, binCount)
	for i := 0; i < binCount; i++ {
		if !accepted[i] {
			continue
		}
		if i == 0 && i == binCount-1 {
			hasAcceptedNeighbour[i] = accepted[i]
			continue
		}
		left := i > 0 && accepted[i-1]
		right := i < binCount-1 && accepted[i+1]
		self := accepted[i]
		hasAcceptedNeighbour[i] = left || right || (self && i == 0 && binCount == 1)
	}
	// A lone accepted bin with no neighbours on either side still
	// counts as its own neighbour.
	anyAccepted := 0
	for _, a := range accepted {
		if a {
			anyAccepted++
		}
	}
	if anyAccepted == 1 {
		for i, a := range accepted {
			if a {
				hasAcceptedNeighbour[i] = true
			}
		}
	}

	out := make([]candidate, 0, len(valid))
	for _, c := range valid {
		b := binOf(c.offset)
		if accepted[b] && hasAcceptedNeighbour[b] {
			out = append(out, c)
		}
	}
	return out
}

func (r *CPRRule) ToJSON() (json.RawMessage, error) {
	return json.Marshal(struct {
		Type             string `json:"type"`
		Sensitivity      string `json:"sensitivity,omitempty"`
		Name             string `json:"name,omitempty"`
		IgnoreIrrelevant bool   `json:"ignore_irrelevant"`
		ExamineContext   bool   `json:"examine_context"`
		Modulus11        bool   `json:"modulus_11"`
	}{
		Type:             "cpr",
		Sensitivity:      r.sensitivity.String(),
		Name:             r.name,
		IgnoreIrrelevant: r.IgnoreIrrelevant,
		ExamineContext:   r.ExamineContext,
		Modulus11:        r.Modulus11,
	})
}

func cprFromJSON(data []byte) (rule.Rule, error) {
	var v struct {
		Sensitivity      string `json:"sensitivity"`
		Name             string `json:"name"`
		IgnoreIrrelevant bool   `json:"ignore_irrelevant"`
		ExamineContext   bool   `json:"examine_context"`
		Modulus11        bool   `json:"modulus_11"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	r := NewCPRRule(v.IgnoreIrrelevant, v.Modulus11)
	r.ExamineContext = v.ExamineContext
	r.name = v.Name
	if v.Sensitivity != "" {
		s, err := sensitivityFromString(v.Sensitivity)
		if err != nil {
			return nil, err
		}
		r.sensitivity = s
	}
	return r, nil
}
