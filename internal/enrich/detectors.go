package enrich

import (
	"regexp"
	"strings"

	"github.com/xela07ax/spaceai-guardian-prototype/internal/domain"
)

// DetectorSetVersion — версия набора детекторов. Входит в ключ кэша:
// после изменения паттернов старые закэшированные теги недостижимы.
const DetectorSetVersion = "2026.08"

// Detector — один независимый сканер плана. Ошибка или паника одного
// детектора не валит весь enrichment (изоляция в Enricher).
type Detector interface {
	Name() string
	Detect(plan domain.Plan, advanced bool) ([]domain.SafetyTag, error)
}

// defaultDetectors — фиксированный набор. Порядок стабилен, чтобы
// результат был воспроизводим от вызова к вызову.
func defaultDetectors() []Detector {
	return []Detector{
		&piiDetector{},
		&financialDetector{},
		&complianceDetector{},
		&credentialDetector{},
	}
}

// ---------------------------------------------------------------------------
// PII

var (
	reEmail = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	rePhone = regexp.MustCompile(`\+?\d[\d\-\s()]{8,}\d`)
	reSSN   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	reCard  = regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)
)

type piiDetector struct{}

func (d *piiDetector) Name() string { return "pii" }

func (d *piiDetector) Detect(plan domain.Plan, advanced bool) ([]domain.SafetyTag, error) {
	text := plan.Description + "\n" + plan.Content

	hits := map[string]int{}
	if n := len(reEmail.FindAllString(text, -1)); n > 0 {
		hits["email"] = n
	}
	if n := len(reSSN.FindAllString(text, -1)); n > 0 {
		hits["ssn"] = n
	}
	if advanced {
		// Телефоны и карты шумные — включаем только в advanced-режиме
		if n := len(rePhone.FindAllString(text, -1)); n > 0 {
			hits["phone"] = n
		}
		if n := len(reCard.FindAllString(text, -1)); n > 0 {
			hits["card"] = n
		}
	}

	if len(hits) == 0 {
		return nil, nil
	}

	// Уверенность растет с числом разных типов PII, точечные матчи
	// (SSN) весят больше эвристических (телефон)
	confidence := 0.55
	if hits["ssn"] > 0 {
		confidence += 0.3
	}
	if hits["email"] > 0 {
		confidence += 0.15
	}
	if hits["phone"] > 0 || hits["card"] > 0 {
		confidence += 0.1
	}
	if confidence > 1 {
		confidence = 1
	}

	meta := map[string]string{}
	for kind := range hits {
		meta[kind] = "detected"
	}

	return []domain.SafetyTag{{
		Name:       "pii",
		Category:   "privacy",
		Confidence: confidence,
		Metadata:   meta,
	}}, nil
}

// ---------------------------------------------------------------------------
// Financial

var financialKeywords = []string{
	"invoice", "payment", "transfer", "wire", "payroll", "transaction",
	"refund", "settlement", "account number", "iban", "swift", "ledger",
}

var reAmount = regexp.MustCompile(`[$€£]\s?\d[\d,]*(\.\d{2})?`)

type financialDetector struct{}

func (d *financialDetector) Name() string { return "financial" }

func (d *financialDetector) Detect(plan domain.Plan, advanced bool) ([]domain.SafetyTag, error) {
	text := strings.ToLower(plan.Description + "\n" + plan.Content)

	matched := make([]string, 0, 4)
	for _, kw := range financialKeywords {
		if strings.Contains(text, kw) {
			matched = append(matched, kw)
		}
	}

	amounts := 0
	if advanced {
		amounts = len(reAmount.FindAllString(plan.Content, -1))
	}

	if len(matched) == 0 && amounts == 0 {
		return nil, nil
	}

	confidence := 0.5 + 0.12*float64(len(matched))
	if amounts > 0 {
		confidence += 0.15
	}
	if confidence > 1 {
		confidence = 1
	}

	return []domain.SafetyTag{{
		Name:       "financial",
		Category:   "finance",
		Confidence: confidence,
		Metadata:   map[string]string{"keywords": strings.Join(matched, ",")},
	}}, nil
}

// ---------------------------------------------------------------------------
// Compliance

var complianceKeywords = map[string]string{
	"gdpr":         "GDPR",
	"hipaa":        "HIPAA",
	"pci-dss":      "PCI-DSS",
	"pci dss":      "PCI-DSS",
	"sox":          "SOX",
	"data subject": "GDPR",
	"phi":          "HIPAA",
}

type complianceDetector struct{}

func (d *complianceDetector) Name() string { return "compliance" }

func (d *complianceDetector) Detect(plan domain.Plan, advanced bool) ([]domain.SafetyTag, error) {
	text := strings.ToLower(plan.Description + "\n" + plan.Content)

	regimes := map[string]struct{}{}
	for kw, regime := range complianceKeywords {
		if strings.Contains(text, kw) {
			regimes[regime] = struct{}{}
		}
	}

	if len(regimes) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(regimes))
	for r := range regimes {
		names = append(names, r)
	}

	confidence := 0.6 + 0.1*float64(len(regimes))
	if confidence > 1 {
		confidence = 1
	}

	return []domain.SafetyTag{{
		Name:       "compliance",
		Category:   "compliance",
		Confidence: confidence,
		Metadata:   map[string]string{"regimes": strings.Join(names, ",")},
	}}, nil
}

// ---------------------------------------------------------------------------
// Credentials (секреты в payload — почти всегда инцидент)

var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_\-]?key|secret|password|passwd)\s*[:=]\s*\S+`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), // AWS Access Key ID
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9\-_.]{20,}`),
}

type credentialDetector struct{}

func (d *credentialDetector) Name() string { return "credentials" }

func (d *credentialDetector) Detect(plan domain.Plan, advanced bool) ([]domain.SafetyTag, error) {
	text := plan.Description + "\n" + plan.Content

	matches := 0
	for _, re := range credentialPatterns {
		matches += len(re.FindAllString(text, -1))
	}

	if matches == 0 {
		return nil, nil
	}

	confidence := 0.7 + 0.1*float64(matches)
	if confidence > 1 {
		confidence = 1
	}

	return []domain.SafetyTag{{
		Name:       "credentials",
		Category:   "security",
		Confidence: confidence,
	}}, nil
}
