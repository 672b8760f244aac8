package scope

// WindowLocator searches backward from a line for a function header within the
// function window and a type header within the type window. It supports every
// file and serves as the registry fallback.
type WindowLocator struct {
	c *Classifier
}

// NewWindowLocator creates a WindowLocator.
func NewWindowLocator(c *Classifier) *WindowLocator {
	return &WindowLocator{c: c}
}

func (l *WindowLocator) Name() string { return "window" }

func (l *WindowLocator) Supports(string) bool { return true }

func (l *WindowLocator) Index(_ string, _ []byte, lines []string) (Index, error) {
	return &windowIndex{lines: lines, c: l.c}, nil
}

type windowIndex struct {
	lines []string
	c     *Classifier
}

func (x *windowIndex) search(line, window int, match func(string) bool) bool {
	if line < 0 || line >= len(x.lines) {
		return false
	}
	stop := max(0, line-window)
	for i := line; i >= stop; i-- {
		if match(x.lines[i]) {
			return true
		}
	}
	return false
}

func (x *windowIndex) InFunction(line int) bool {
	return x.search(line, x.c.functionWindow, x.c.IsFuncDecl)
}

func (x *windowIndex) InType(line int) bool {
	return x.search(line, x.c.typeWindow, x.c.IsTypeDecl)
}
