package stack

import (
	"sort"
	"strings"
)

// Ref is the intrinsic reference to a resource; for a topic it resolves to
// the topic ARN, for a role or function to its name.
func Ref(id string) map[string]any {
	return map[string]any{"Ref": id}
}

func GetAtt(id, attribute string) map[string]any {
	return map[string]any{"Fn::GetAtt": []any{id, attribute}}
}

func Join(sep string, parts ...any) map[string]any {
	return map[string]any{"Fn::Join": []any{sep, parts}}
}

// ManagedPolicyARN builds the partition-aware ARN of an AWS managed policy.
func ManagedPolicyARN(name string) map[string]any {
	return Join("", "arn:", Ref("AWS::Partition"), ":iam::aws:policy/"+name)
}

// references returns the resource ids value points at through Ref and
// Fn::GetAtt, sorted. Pseudo parameters (AWS::Region, ...) are skipped.
func references(value any) []string {
	seen := map[string]struct{}{}
	collectRefs(value, seen)
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func collectRefs(value any, seen map[string]struct{}) {
	switch typed := value.(type) {
	case map[string]any:
		if ref, ok := typed["Ref"].(string); ok && len(typed) == 1 {
			if !strings.HasPrefix(ref, "AWS::") {
				seen[ref] = struct{}{}
			}
			return
		}
		if att, ok := typed["Fn::GetAtt"].([]any); ok && len(typed) == 1 && len(att) == 2 {
			if id, ok := att[0].(string); ok {
				seen[id] = struct{}{}
			}
			return
		}
		for _, v := range typed {
			collectRefs(v, seen)
		}
	case []any:
		for _, v := range typed {
			collectRefs(v, seen)
		}
	case []map[string]any:
		for _, v := range typed {
			collectRefs(v, seen)
		}
	}
}
