package task

// Group is an ordered list of descriptors sharing one environment key.
// All tasks in a group mutate the same checkout/install, so a group is the
// unit of mutual exclusion: its tasks run strictly sequentially.
type Group struct {
	Key   string
	Tasks []*Descriptor
}

// PartitionByEnvironment splits descriptors into groups keyed by environment.
// Input order is preserved within each group; groups appear in order of
// first occurrence. No descriptor is dropped or duplicated.
func PartitionByEnvironment(descriptors []*Descriptor) []Group {
	index := make(map[string]int, len(descriptors))
	var groups []Group
	for _, d := range descriptors {
		key := d.EnvironmentKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Tasks = append(groups[i].Tasks, d)
	}
	return groups
}
