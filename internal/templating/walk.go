package templating

// CollectStrings walks an args/vars value (maps, slices, and scalars
// produced by YAML decoding) and returns every string leaf that looks like
// a template, in a stable depth-first order. The Dependency Waiter probes
// each of these in turn rather than parsing the task's argument shape
// itself.
func CollectStrings(v interface{}) []string {
	var out []string
	collect(v, &out)
	return out
}

func collect(v interface{}, out *[]string) {
	switch val := v.(type) {
	case string:
		if IsTemplate(val) {
			*out = append(*out, val)
		}
	case map[string]interface{}:
		for _, k := range sortedKeys(val) {
			collect(val[k], out)
		}
	case []interface{}:
		for _, item := range val {
			collect(item, out)
		}
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Simple insertion sort: argument maps are small, and a stable
	// deterministic order matters more here than raw speed.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
