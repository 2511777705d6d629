package combat

import (
	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/match"
)

// LaneRows is the height of the shared lane both boards project onto.
const LaneRows = 2 * catalog.Rows

// Cell is a point in lane coordinates. Lane rows 0..2 hold the attacking
// player's board (back row first), rows 3..5 hold the defending player's
// board (front row first), so the two front rows are adjacent.
type Cell struct {
	Row int
	Col int
}

// BoardCell addresses a cell on a specific player's board.
type BoardCell struct {
	PlayerID string         `json:"player_id"`
	Position match.Position `json:"position"`
}

// attackerCell projects a cell of the attacking board into the lane.
func attackerCell(p match.Position) Cell {
	return Cell{Row: catalog.Rows - 1 - p.Row, Col: p.Col}
}

// defenderCell projects a cell of the defending board into the lane.
func defenderCell(p match.Position) Cell {
	return Cell{Row: catalog.Rows + p.Row, Col: p.Col}
}

// unproject maps a lane cell back onto the board it belongs to.
func unproject(c Cell, attackerID, defenderID string) BoardCell {
	if c.Row < catalog.Rows {
		return BoardCell{PlayerID: attackerID, Position: match.Position{Row: catalog.Rows - 1 - c.Row, Col: c.Col}}
	}
	return BoardCell{PlayerID: defenderID, Position: match.Position{Row: c.Row - catalog.Rows, Col: c.Col}}
}

// Distance returns the Manhattan distance between two lane cells.
func Distance(a, b Cell) int {
	return abs(a.Row-b.Row) + abs(a.Col-b.Col)
}

// Line traces the integer grid line from a to b with Bresenham's algorithm.
// Both endpoints are included.
func Line(a, b Cell) []Cell {
	dx := abs(b.Col - a.Col)
	dy := -abs(b.Row - a.Row)
	sx, sy := 1, 1
	if a.Col > b.Col {
		sx = -1
	}
	if a.Row > b.Row {
		sy = -1
	}

	cells := make([]Cell, 0, dx-dy+1)
	x, y := a.Col, a.Row
	err := dx + dy
	for {
		cells = append(cells, Cell{Row: y, Col: x})
		if x == b.Col && y == b.Row {
			return cells
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
