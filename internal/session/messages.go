package session

import (
	"fmt"
	"strings"

	"github.com/foxseedlab/trivia/internal/repository"
)

const (
	messageStartFormat               = "Starting trivia, use %sstrivia to stop"
	messageAlreadyRunning            = "Game already in progress"
	messageTryAgain                  = "Something went wrong, please try again."
	messageQuestionsOffline          = "Could not fetch questions right now, please try again later."
	messageInvalidAmount             = "Number of questions must be between 1 and 20"
	messageAmountNotNumber           = "Number of questions must be a number"
	messageInvalidTimeout            = "Timeout must be between 10 and 60 seconds"
	messageTimeoutNotNumber          = "Timeout must be a number of seconds"
	messageCorrectFormat             = "Correct %s! The answer was: %s"
	messageTimesUpFormat             = "**Time's up!** The answer was: %s"
	messageGameOverWinners           = "Game over! The winners are:"
	messageGameOverNoWinners         = "Game over! Nobody scored this time."
	messageGameOverScoresUnavailable = "Game over! Scores could not be loaded right now."
	messageAllTimeHeader             = "**Trivia** - All Time High Scores:"
	messageNoScoresYet               = "No one has scored yet."
	messageNoPointsFormat            = "%s has no points! Sad!"
	messageUserTotalFormat           = "Total points for %s: %d %s"
	messageHelpHeader                = "Available commands:"
	messageUnknownHelpFormat         = "Command `%s` not found"

	reactionOK = "✅"
)

var medals = []string{"🥇", "🥈", "🥉"}

func mention(userID string) string {
	return "<@" + userID + ">"
}

func pluralPoints(n int) string {
	if n == 1 {
		return "point"
	}
	return "points"
}

func startMessage(prefix string) string {
	return fmt.Sprintf(messageStartFormat, prefix)
}

func correctMessage(userID, answer string) string {
	return fmt.Sprintf(messageCorrectFormat, mention(userID), answer)
}

func timesUpMessage(answer string) string {
	return fmt.Sprintf(messageTimesUpFormat, answer)
}

func noPointsMessage(userID string) string {
	return fmt.Sprintf(messageNoPointsFormat, mention(userID))
}

func userTotalMessage(sc repository.UserScore) string {
	return fmt.Sprintf(messageUserTotalFormat, mention(sc.UserID), sc.Count, pluralPoints(sc.Count))
}

// winnersLines renders one medal line per ranked entry.
func winnersLines(scores []repository.UserScore) string {
	lines := make([]string, 0, len(scores))
	for i, sc := range scores {
		medal := ""
		if i < len(medals) {
			medal = medals[i]
		}
		lines = append(lines, fmt.Sprintf("%s %s - **%d** %s", medal, mention(sc.UserID), sc.Count, pluralPoints(sc.Count)))
	}
	return strings.Join(lines, "\n")
}

func gameOverMessage(scores []repository.UserScore) string {
	if len(scores) == 0 {
		return messageGameOverNoWinners
	}
	return messageGameOverWinners + "\n" + winnersLines(scores)
}

func allTimeMessage(scores []repository.UserScore) string {
	if len(scores) == 0 {
		return messageAllTimeHeader + "\n" + messageNoScoresYet
	}
	return messageAllTimeHeader + "\n" + winnersLines(scores)
}
