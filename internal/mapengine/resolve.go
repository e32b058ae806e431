package mapengine

// HandleCarrier is implemented by wrappers and container elements that hold
// a map handle without being one.
type HandleCarrier interface {
	MapHandle() Map
}

// Resolve normalizes the shapes a map can arrive in (a raw handle, a
// wrapper, or the container element the handle is attached to) into a Map.
func Resolve(v any) (Map, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case Map:
		return x, x != nil
	case HandleCarrier:
		m := x.MapHandle()
		return m, m != nil
	default:
		return nil, false
	}
}

// Closest walks from el up through its ancestors and returns the first
// element for which match is true.
func Closest(el Element, match func(Element) bool) Element {
	for cur := el; cur != nil; cur = cur.Parent() {
		if match(cur) {
			return cur
		}
	}
	return nil
}

// ClosestData returns the value of the nearest data attribute named key on
// el or one of its ancestors.
func ClosestData(el Element, key string) (string, bool) {
	found := Closest(el, func(e Element) bool {
		_, ok := e.Data(key)
		return ok
	})
	if found == nil {
		return "", false
	}
	return found.Data(key)
}

// FindByClass returns every descendant of root (root included) with class.
func FindByClass(root Element, class string) []Element {
	if root == nil {
		return nil
	}
	var out []Element
	var walk func(Element)
	walk = func(e Element) {
		if e.HasClass(class) {
			out = append(out, e)
		}
		for _, c := range e.Children() {
			walk(c)
		}
	}
	walk(root)
	return out
}
