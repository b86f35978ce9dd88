package entity

type Mark string

const (
	MarkNone Mark = ""
	MarkX    Mark = "X"
	MarkO    Mark = "O"
)

const BoardSize = 9

// WinCombos - rows, then columns, then diagonals.
var WinCombos = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

func (that Mark) IsPlayable() bool {
	return that == MarkX || that == MarkO
}

func (that Mark) Opponent() Mark {
	switch that {
	case MarkX:
		return MarkO
	case MarkO:
		return MarkX
	default:
		return MarkNone
	}
}

type Board [BoardSize]Mark

type OutcomeKind string

const (
	OutcomeNone OutcomeKind = "none"
	OutcomeDraw OutcomeKind = "draw"
	OutcomeWin  OutcomeKind = "win"
)

type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Winner Mark        `json:"winner,omitempty"`
}

// Evaluate - classifies the board. Cells holding anything other than X or O count as empty.
func Evaluate(board Board) Outcome {
	for _, combo := range WinCombos {
		a, b, c := board[combo[0]], board[combo[1]], board[combo[2]]
		if a.IsPlayable() && a == b && b == c {
			return Outcome{Kind: OutcomeWin, Winner: a}
		}
	}

	// the game will continue until all the squares are full
	for _, cell := range board {
		if !cell.IsPlayable() {
			return Outcome{Kind: OutcomeNone}
		}
	}

	return Outcome{Kind: OutcomeDraw}
}

func (that Board) IsValidCell(cell int) bool {
	return cell >= 0 && cell < BoardSize
}

func (that Board) IsEmptyCell(cell int) bool {
	return !that[cell].IsPlayable()
}
