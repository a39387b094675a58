package tictactoe

import (
	"math/rand"
	"sync"
	"time"

	"github.com/o2games/tictactoe-server/internal/apperror"
)

const (
	// EmptyCell marks an unoccupied board cell; occupied cells hold the
	// owning seat index (0 or 1).
	EmptyCell = -1

	boardSize = 3
	seatCount = 2
)

// winLines are the 8 winning triples: 3 rows, 3 columns, 2 diagonals.
var winLines = [8][3][2]int{
	{{0, 0}, {0, 1}, {0, 2}},
	{{1, 0}, {1, 1}, {1, 2}},
	{{2, 0}, {2, 1}, {2, 2}},

	{{0, 0}, {1, 0}, {2, 0}},
	{{0, 1}, {1, 1}, {2, 1}},
	{{0, 2}, {1, 2}, {2, 2}},

	{{0, 0}, {1, 1}, {2, 2}},
	{{0, 2}, {1, 1}, {2, 0}},
}

// Action is the board coordinate of the last placed piece.
type Action struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Notifier receives the authoritative state transitions of a game. The engine
// emits each notification kind at most once per transition; implementations
// must not call back into the game.
type Notifier interface {
	GameStart(playerID string, view *View)
	NextTurn(playerID string, view *View)
	GameOver(playerID string, view *View)
}

// ConcludeFunc is called exactly once when a game concludes. winnerID is
// empty on a draw.
type ConcludeFunc func(game *Game, winnerID string)

// Game is the state machine for one match. It performs no I/O and advances
// only through Start, PlacePiece and Tick; all three serialize on the game's
// own mutex so a scheduler tick racing a placement can never conclude the
// same game twice.
type Game struct {
	mu sync.Mutex

	id         string
	players    [seatCount]string
	board      [boardSize][boardSize]int
	firstHand  int
	current    int
	countdowns [seatCount]int64
	started    bool
	playing    bool

	notifier   Notifier
	onConclude ConcludeFunc
}

// NewGame creates a game for two distinct players with an empty board, full
// countdowns and a randomly chosen first hand. The game does not run until
// Start is called.
func NewGame(id string, playerA, playerB string, countdown time.Duration, notifier Notifier, onConclude ConcludeFunc) (*Game, error) {
	if playerA == "" || playerB == "" || playerA == playerB {
		return nil, apperror.ErrInvalidConfiguration
	}

	firstHand := rand.Intn(seatCount) //nolint:gosec // seat order is not security sensitive

	game := &Game{
		id:         id,
		players:    [seatCount]string{playerA, playerB},
		firstHand:  firstHand,
		current:    firstHand,
		countdowns: [seatCount]int64{countdown.Milliseconds(), countdown.Milliseconds()},
		notifier:   notifier,
		onConclude: onConclude,
	}

	for row := range game.board {
		for col := range game.board[row] {
			game.board[row][col] = EmptyCell
		}
	}

	return game, nil
}

func (that *Game) ID() string {
	return that.id
}

func (that *Game) Players() [seatCount]string {
	return that.players
}

// CurrentPlayerID returns the id of the seat whose turn it is.
func (that *Game) CurrentPlayerID() string {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.players[that.current]
}

func (that *Game) IsPlaying() bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.playing
}

// Start begins play and notifies both players with their game-start views.
func (that *Game) Start() error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.started {
		return apperror.ErrAlreadyStarted
	}

	that.started = true
	that.playing = true

	for seat, playerID := range that.players {
		that.notifier.GameStart(playerID, that.viewFor(seat))
	}

	return nil
}

// PlacePiece places the current seat's mark at (row, col) on behalf of
// playerID. On a win or a draw the game concludes; otherwise the turn flips
// and the next player is notified.
func (that *Game) PlacePiece(playerID string, row, col int) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if !that.playing {
		return apperror.ErrGameNotActive
	}

	if that.players[that.current] != playerID {
		return apperror.ErrNotYourTurn
	}

	if row < 0 || row >= boardSize || col < 0 || col >= boardSize {
		return apperror.ErrCellOccupied
	}

	if that.board[row][col] != EmptyCell {
		return apperror.ErrCellOccupied
	}

	that.board[row][col] = that.current
	lastAction := &Action{Row: row, Col: col}

	switch {
	case that.hasWin():
		that.conclude(that.current, lastAction)
	case that.isFull():
		that.conclude(EmptyCell, lastAction)
	default:
		that.current = 1 - that.current

		view := that.viewFor(that.current)
		view.LastAction = lastAction
		that.notifier.NextTurn(that.players[that.current], view)
	}

	return nil
}

// Tick decrements the current seat's countdown by elapsedMS. Exhausting the
// countdown forfeits the game to the other seat. A tick on a game that is
// not playing is a no-op.
func (that *Game) Tick(elapsedMS int64) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if !that.playing {
		return
	}

	that.countdowns[that.current] -= elapsedMS

	if that.countdowns[that.current] <= 0 {
		that.conclude(1-that.current, nil)
	}
}

// InfoFor returns the player-relative view for playerID.
func (that *Game) InfoFor(playerID string) *View {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.viewFor(that.seatOf(playerID))
}

func (that *Game) seatOf(playerID string) int {
	if that.players[1] == playerID {
		return 1
	}

	return 0
}

func (that *Game) hasWin() bool {
	for _, line := range winLines {
		first := that.board[line[0][0]][line[0][1]]
		if first == EmptyCell {
			continue
		}

		if that.board[line[1][0]][line[1][1]] == first && that.board[line[2][0]][line[2][1]] == first {
			return true
		}
	}

	return false
}

func (that *Game) isFull() bool {
	for row := range that.board {
		for col := range that.board[row] {
			if that.board[row][col] == EmptyCell {
				return false
			}
		}
	}

	return true
}

// conclude finishes the game exactly once: it flips playing off, notifies
// both players with their relative results and hands the game to onConclude,
// which removes it from the registry. The hand-off is deferred so that a
// panicking notifier cannot leave the game registered and the records
// un-torn-down. Must be called with the mutex held.
func (that *Game) conclude(winnerSeat int, lastAction *Action) {
	that.playing = false

	var winnerID string
	if winnerSeat != EmptyCell {
		winnerID = that.players[winnerSeat]
	}

	if that.onConclude != nil {
		defer that.onConclude(that, winnerID)
	}

	for seat, playerID := range that.players {
		view := that.viewFor(seat)
		view.LastAction = lastAction
		view.Result = resultFor(seat, winnerSeat)
		that.notifier.GameOver(playerID, view)
	}
}

func resultFor(seat, winnerSeat int) Result {
	switch winnerSeat {
	case EmptyCell:
		return ResultDraw
	case seat:
		return ResultWin
	default:
		return ResultLose
	}
}
