package flush

// DefaultImageBindingsPerTable is used when a backend reports no limit.
const DefaultImageBindingsPerTable = 256

// imageBinding locates a batch's image: table index and slot, or -1.
type imageBinding struct {
	table int
	slot  int
}

var noBinding = imageBinding{table: -1, slot: -1}

// assignBindings packs the distinct images of batches into tables of
// perTable slots in draw order. A table that fills up is retired and a
// new one started; images are deduplicated within a table only.
func assignBindings(batches []DrawBatch, perTable int) ([]imageBinding, [][]ImageTexture) {
	if perTable <= 0 {
		perTable = DefaultImageBindingsPerTable
	}
	assign := make([]imageBinding, len(batches))
	var tables [][]ImageTexture
	var slots map[ImageTexture]int
	for i := range batches {
		img := batches[i].Image
		if !batches[i].Type.IsImage() || img == nil {
			assign[i] = noBinding
			continue
		}
		cur := len(tables) - 1
		if cur >= 0 {
			if slot, ok := slots[img]; ok {
				assign[i] = imageBinding{table: cur, slot: slot}
				continue
			}
		}
		if cur < 0 || len(tables[cur]) == perTable {
			tables = append(tables, make([]ImageTexture, 0, min(perTable, 16)))
			slots = make(map[ImageTexture]int)
			cur++
		}
		slot := len(tables[cur])
		tables[cur] = append(tables[cur], img)
		slots[img] = slot
		assign[i] = imageBinding{table: cur, slot: slot}
	}
	return assign, tables
}
