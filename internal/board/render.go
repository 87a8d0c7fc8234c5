package board

// RenderConsumer receives the reconciled drawing stream. Calls arrive
// strictly in the order the board decides after reordering: AddPoints and
// EndStroke for a key never precede its BeginStroke. A repeated BeginStroke
// for a key that is still open is a style refresh, not a restart.
// BeginBulk/EndBulk bracket a snapshot replay so the consumer may defer an
// expensive repaint to a single pass.
type RenderConsumer interface {
	BeginStroke(key StrokeKey, style Style)
	AddPoints(key StrokeKey, points []Point)
	EndStroke(key StrokeKey)
	AddLabel(key LabelKey, pos Point, text string)
	ClearAll()
	BeginBulk()
	EndBulk()
}

// Nop returns a consumer that absorbs every call. A board without a real
// renderer still keeps its history current, so the next snapshot replays the
// full picture.
func Nop() RenderConsumer { return nopConsumer{} }

type nopConsumer struct{}

func (nopConsumer) BeginStroke(StrokeKey, Style)     {}
func (nopConsumer) AddPoints(StrokeKey, []Point)     {}
func (nopConsumer) EndStroke(StrokeKey)              {}
func (nopConsumer) AddLabel(LabelKey, Point, string) {}
func (nopConsumer) ClearAll()                        {}
func (nopConsumer) BeginBulk()                       {}
func (nopConsumer) EndBulk()                         {}
