package dcn

import "sort"

// RequiredTransformations are the transformations every generated feature may
// use, with the source registered when they are missing.
var RequiredTransformations = map[string]string{
	"add":      "return x + args[0];",
	"subtract": "return x - args[0];",
	"mul":      "return x * args[0];",
	"div":      "return args[0] == 0 ? 0 : x / args[0];",
}

// RequiredNames returns the required transformation names in a stable order.
func RequiredNames() []string {
	names := make([]string, 0, len(RequiredTransformations))
	for name := range RequiredTransformations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRequired reports whether name is one of the required transformations.
func IsRequired(name string) bool {
	_, ok := RequiredTransformations[name]
	return ok
}
