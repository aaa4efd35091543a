package uvn

// nextID returns the smallest positive integer not present in either the
// active or excluded id sets, so that banned ids are never reused.
func nextID(active, excluded map[int]struct{}) int {
	for id := 1; ; id++ {
		if _, ok := active[id]; ok {
			continue
		}
		if _, ok := excluded[id]; ok {
			continue
		}
		return id
	}
}

func cellIDSet(m map[int]*Cell) map[int]struct{} {
	s := make(map[int]struct{}, len(m))
	for id := range m {
		s[id] = struct{}{}
	}
	return s
}

func particleIDSet(m map[int]*Particle) map[int]struct{} {
	s := make(map[int]struct{}, len(m))
	for id := range m {
		s[id] = struct{}{}
	}
	return s
}

// AddCell assigns the next available cell id and inserts c, validating the
// resulting UVN. On validation failure the UVN is left unmodified.
func (u *UVN) AddCell(c Cell) (*Cell, error) {
	id := nextID(cellIDSet(u.Cells), cellIDSet(u.ExcludedCells))
	c.ID = id
	u.Cells[id] = &c
	if err := u.Validate(); err != nil {
		delete(u.Cells, id)
		return nil, err
	}
	return u.Cells[id], nil
}

// UpdateCell replaces the stored fields of the cell with the given id,
// preserving its id, and validates the result. On failure the previous
// cell is restored.
func (u *UVN) UpdateCell(id int, c Cell) (*Cell, error) {
	prev, ok := u.Cells[id]
	if !ok {
		return nil, configErrorf("no such cell: %d", id)
	}
	c.ID = id
	u.Cells[id] = &c
	if err := u.Validate(); err != nil {
		u.Cells[id] = prev
		return nil, err
	}
	return u.Cells[id], nil
}

// BanCell moves the cell to the excluded set, permanently retiring its id.
func (u *UVN) BanCell(id int) error {
	c, ok := u.Cells[id]
	if !ok {
		return configErrorf("no such cell: %d", id)
	}
	delete(u.Cells, id)
	if u.ExcludedCells == nil {
		u.ExcludedCells = map[int]*Cell{}
	}
	u.ExcludedCells[id] = c
	return nil
}

// UnbanCell restores a previously banned cell under its original id.
func (u *UVN) UnbanCell(id int) (*Cell, error) {
	c, ok := u.ExcludedCells[id]
	if !ok {
		return nil, configErrorf("no such excluded cell: %d", id)
	}
	delete(u.ExcludedCells, id)
	u.Cells[id] = c
	if err := u.Validate(); err != nil {
		delete(u.Cells, id)
		u.ExcludedCells[id] = c
		return nil, err
	}
	return c, nil
}

// DeleteCell permanently removes the cell and its id from both the active
// and excluded sets (unlike BanCell, the id may later be reused).
func (u *UVN) DeleteCell(id int) error {
	if _, ok := u.Cells[id]; ok {
		delete(u.Cells, id)
		return nil
	}
	if _, ok := u.ExcludedCells[id]; ok {
		delete(u.ExcludedCells, id)
		return nil
	}
	return configErrorf("no such cell: %d", id)
}

// AddParticle assigns the next available particle id and inserts p.
func (u *UVN) AddParticle(p Particle) (*Particle, error) {
	id := nextID(particleIDSet(u.Particles), particleIDSet(u.ExcludedParticles))
	p.ID = id
	u.Particles[id] = &p
	if err := u.Validate(); err != nil {
		delete(u.Particles, id)
		return nil, err
	}
	return u.Particles[id], nil
}

// UpdateParticle replaces the stored fields of the particle with the given
// id, preserving its id.
func (u *UVN) UpdateParticle(id int, p Particle) (*Particle, error) {
	prev, ok := u.Particles[id]
	if !ok {
		return nil, configErrorf("no such particle: %d", id)
	}
	p.ID = id
	u.Particles[id] = &p
	if err := u.Validate(); err != nil {
		u.Particles[id] = prev
		return nil, err
	}
	return u.Particles[id], nil
}

// BanParticle moves the particle to the excluded set.
func (u *UVN) BanParticle(id int) error {
	p, ok := u.Particles[id]
	if !ok {
		return configErrorf("no such particle: %d", id)
	}
	delete(u.Particles, id)
	if u.ExcludedParticles == nil {
		u.ExcludedParticles = map[int]*Particle{}
	}
	u.ExcludedParticles[id] = p
	return nil
}

// UnbanParticle restores a previously banned particle under its original
// id.
func (u *UVN) UnbanParticle(id int) (*Particle, error) {
	p, ok := u.ExcludedParticles[id]
	if !ok {
		return nil, configErrorf("no such excluded particle: %d", id)
	}
	delete(u.ExcludedParticles, id)
	u.Particles[id] = p
	if err := u.Validate(); err != nil {
		delete(u.Particles, id)
		u.ExcludedParticles[id] = p
		return nil, err
	}
	return p, nil
}

// DeleteParticle permanently removes the particle and its id.
func (u *UVN) DeleteParticle(id int) error {
	if _, ok := u.Particles[id]; ok {
		delete(u.Particles, id)
		return nil
	}
	if _, ok := u.ExcludedParticles[id]; ok {
		delete(u.ExcludedParticles, id)
		return nil
	}
	return configErrorf("no such particle: %d", id)
}
