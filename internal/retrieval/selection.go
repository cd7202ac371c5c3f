package retrieval

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	selectionDataset = regexp.MustCompile(`dataset:\s*(\S+)`)
	selectionTool    = regexp.MustCompile(`tool:\s*(\S+)`)
)

// ParseSelection reads the two-line answer
//
//	dataset: <dataset_id>
//	tool: <tool_name>
//
// ok is false unless both lines are present.
func ParseSelection(text string) (dataset, tool string, ok bool) {
	dm := selectionDataset.FindStringSubmatch(text)
	tm := selectionTool.FindStringSubmatch(text)
	if dm == nil || tm == nil {
		return "", "", false
	}
	return dm[1], tm[1], true
}

// BuildSelectionPrompt asks the decider model which dataset and retrieval
// tool fit a query.
func BuildSelectionPrompt(query string, datasets, tools []string) string {
	return fmt.Sprintf(`
Kullanıcı sorusu: %s
Mevcut veri setleri: %s
Mevcut araçlar: %s
Soru hangi veri seti ve araçla en alakalı? Yanıtı TAM OLARAK şu formatta döndür:
dataset: <dataset_id>
tool: <tool_name>
Örnek:
dataset: common_home_network_problems
tool: fixie_check_common_issues
Yalnızca bu formatta yanıt ver, başka metin ekleme.
`, query, strings.Join(datasets, ", "), strings.Join(tools, ", "))
}
