package tictactoe

// Result is the game outcome from one player's point of view.
type Result string

const (
	ResultWin  Result = "win"
	ResultLose Result = "lose"
	ResultDraw Result = "draw"
)

// View is the player-relative state of a game: the requesting player's own
// pieces always read as 0 and the opponent's as 1, countdowns are ordered
// self-first, and FirstHand/CurrentPlayer are 0 for self and 1 for the
// opponent. Clients render "me vs. opponent" without knowing seat numbers.
type View struct {
	ID            string                    `json:"id"`
	Board         [boardSize][boardSize]int `json:"board"`
	Countdowns    [seatCount]int64          `json:"countdowns"`
	FirstHand     int                       `json:"firsthand"`
	CurrentPlayer int                       `json:"currentPlayer"`
	LastAction    *Action                   `json:"lastAction,omitempty"`
	Result        Result                    `json:"result,omitempty"`
}

// viewFor builds the relative view for a seat. Must be called with the
// game mutex held.
func (that *Game) viewFor(seat int) *View {
	view := &View{
		ID:         that.id,
		Countdowns: [seatCount]int64{that.countdowns[seat], that.countdowns[1-seat]},
	}

	if that.firstHand != seat {
		view.FirstHand = 1
	}

	if that.current != seat {
		view.CurrentPlayer = 1
	}

	for row := range that.board {
		for col := range that.board[row] {
			switch piece := that.board[row][col]; piece {
			case EmptyCell:
				view.Board[row][col] = EmptyCell
			case seat:
				view.Board[row][col] = 0
			default:
				view.Board[row][col] = 1
			}
		}
	}

	return view
}
