package router

import (
	"regexp"
	"strings"
)

// KeywordClassifier implements regex-based persona classification over
// Turkish and English phrasings. It needs no model and answers in
// microseconds, so it backs the classifier strategy when the tool-calling
// model is unavailable or declines to call a tool.
type KeywordClassifier struct {
	order    []string
	patterns map[string][]*compiledPattern
}

// compiledPattern holds a pre-compiled regex with its weight.
type compiledPattern struct {
	regex  *regexp.Regexp
	weight float64 // Higher weight = stronger signal
}

// NewKeywordClassifier creates a classifier with the built-in patterns for
// the shipped personas.
func NewKeywordClassifier() *KeywordClassifier {
	c := &KeywordClassifier{patterns: buildPatterns()}
	c.order = []string{"fixie", "bytefix", "hypernet", "professor_ping", "sentinel", "routerx"}
	return c
}

// Classify returns the best persona key and a confidence in [0, 1].
// With no match it returns "" and 0.4.
func (c *KeywordClassifier) Classify(input string) (string, float64) {
	key, confidence, _ := c.ClassifyWithMatches(input)
	return key, confidence
}

// ClassifyWithMatches is Classify plus the patterns that matched.
func (c *KeywordClassifier) ClassifyWithMatches(input string) (string, float64, []string) {
	lower := strings.ToLower(input)

	scores := make(map[string]float64)
	matchCounts := make(map[string]int)
	var matches []string

	for _, key := range c.order {
		for _, p := range c.patterns[key] {
			if p.regex.MatchString(lower) {
				scores[key] += p.weight
				matchCounts[key]++
				matches = append(matches, p.regex.String())
			}
		}
	}

	// Iterate in catalog order so equal scores resolve deterministically.
	var best string
	var bestScore, totalScore float64
	for _, key := range c.order {
		score := scores[key]
		totalScore += score
		if score > bestScore {
			bestScore = score
			best = key
		}
	}

	if totalScore == 0 {
		return "", 0.4, nil
	}

	confidence := bestScore / totalScore

	if len(scores) == 1 {
		confidence = min(confidence+0.25, 1.0)
	}

	if matchCounts[best] >= 2 {
		confidence = min(confidence+0.1, 1.0)
	}

	if len(scores) > 1 {
		secondBest := findSecondBest(scores, best)
		if secondBest > 0 && (bestScore-secondBest)/bestScore < 0.3 {
			// Close competition
			confidence *= 0.8
		}
	}

	return best, confidence, matches
}

// findSecondBest returns the second highest score.
func findSecondBest(scores map[string]float64, best string) float64 {
	var second float64
	for key, score := range scores {
		if key != best && score > second {
			second = score
		}
	}
	return second
}

// buildPatterns creates the weighted patterns per persona. Input is
// lower-cased before matching. Go's \b only knows ASCII word characters, so
// Turkish stems ending in ş, ğ, ı and similar are matched without a trailing
// boundary.
func buildPatterns() map[string][]*compiledPattern {
	p := func(expr string, weight float64) *compiledPattern {
		return &compiledPattern{regex: regexp.MustCompile(expr), weight: weight}
	}

	return map[string][]*compiledPattern{
		"fixie": {
			p(`\b(wi-?fi|wireless|modem|router)\b`, 0.9),
			p(`\b(disconnect\w*|drops?\s+out|no\s+internet|not\s+working|keeps\s+dropping)\b`, 1.0),
			p(`\b(restart|reboot|reset)\b`, 0.8),
			p(`\bisp\b`, 0.7),
			p(`bağlant|kopuyor|internet\s+yok|çalışmıyor|kablosuz`, 1.0),
			p(`yeniden\s+başlat|sıfırla`, 0.8),
		},

		"bytefix": {
			p(`\b(ping|traceroute|tracert|nslookup|dig|mtr)\b`, 1.2),
			p(`\bdns\b`, 0.9),
			p(`\bpacket\s+loss\b|paket\s+kayb`, 1.1),
			p(`\bdiagnos\w*|\bteşhis|\bteshis`, 1.0),
			p(`\b(?:[a-z0-9-]+\.)+(?:com|net|org|io|dev|tr|edu|gov)\b`, 0.9),
			p(`\b\d{1,3}(?:\.\d{1,3}){3}\b`, 0.9),
			p(`\b(unreachable|can'?t\s+reach|cannot\s+reach|timed?\s*out)\b|erişilemiyor|ulaşamıyorum|açılmıyor`, 0.8),
		},

		"hypernet": {
			p(`\bspeed\s*test\b|hız\s+testi`, 1.3),
			p(`\b(speed|bandwidth|throughput|mbps|latency|jitter)\b`, 1.0),
			p(`\bhız|\byavaş|\bgecikme|bant\s+genişli`, 1.0),
			p(`\b(slow|buffering|lag\w*)\b|donuyor`, 0.9),
			p(`\b(optimi[sz]e|faster|boost)\b|hızlandır`, 0.8),
		},

		"professor_ping": {
			p(`\b(explain|teach|learn|what\s+is|what\s+are|how\s+does|how\s+do)\b`, 0.9),
			p(`nedir|nasıl\s+çalışır|anlat|açıkla|öğren`, 1.0),
			p(`\btopolog\w*|\bdiagram\b|\bdiyagram|\bşema`, 1.3),
			p(`\b(star|bus|ring|mesh|tree|hybrid|yıldız|halka)\s+(topolog\w*|network)`, 1.2),
			p(`\b(osi|tcp/ip|ip\s+address\w*)\b|ip\s+adres`, 0.8),
		},

		"sentinel": {
			p(`\b(security|secure|hack\w*|malware|phishing|virus|ransomware|intrusion)\b`, 1.2),
			p(`\b(vpn|wpa[23]?|wps|mac\s+filter\w*|ids|ips|encrypt\w*)\b`, 0.9),
			p(`\bfirewall\b|güvenlik\s+duvar`, 0.8),
			p(`güvenlik|güvenli|saldır|virüs|kötü\s+amaçlı|oltalama|izinsiz|şifrele`, 1.2),
		},

		"routerx": {
			p(`\b(vlan\w*|ospf|bgp|nat|qos|subnet\w*|cidr)\b`, 1.1),
			p(`\b(port\s+forward\w*|static\s+route\w*|routing\s+table|load\s+balanc\w*|traffic\s+shaping)\b`, 1.2),
			p(`\b(configure|configuration|enterprise|switch)\b`, 0.8),
			p(`yönlendirme|yapılandır|konfigür|alt\s+ağ|port\s+yönlendir`, 1.1),
		},
	}
}

// ExtractMention checks if the input starts with an explicit @mention.
// Returns the mention name and the remaining input, or an empty mention.
func ExtractMention(input string) (mention string, remaining string) {
	matches := mentionRegex.FindStringSubmatch(strings.TrimSpace(input))
	if len(matches) == 3 {
		return strings.ToLower(matches[1]), strings.TrimSpace(matches[2])
	}
	return "", input
}

var mentionRegex = regexp.MustCompile(`(?s)^@([\w-]+)(?:\s+(.*))?$`)
