package field

// Pos is a lattice coordinate (i, j, k), each in [0, size).
type Pos [3]int

func (p Pos) X() int { return p[0] }
func (p Pos) Y() int { return p[1] }
func (p Pos) Z() int { return p[2] }

// Neighbor directions in the fixed distribution order: +x, -x, +y, -y, +z, -z.
// Remainder units go to the first directions in this order.
const (
	DirPosX = iota
	DirNegX
	DirPosY
	DirNegY
	DirPosZ
	DirNegZ
	numDirs
)

var dirOffsets = [numDirs]Pos{
	{1, 0, 0},
	{-1, 0, 0},
	{0, 1, 0},
	{0, -1, 0},
	{0, 0, 1},
	{0, 0, -1},
}

// opposite[d] is the direction pointing back at the sender.
var opposite = [numDirs]int{DirNegX, DirPosX, DirNegY, DirPosY, DirNegZ, DirPosZ}
