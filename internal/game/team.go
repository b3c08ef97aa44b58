package game

// Team identifies one of the contesting sides. TeamNone means unassigned
// (for players) or uncontrolled (for control points).
type Team string

const (
	TeamNone   Team = "none"
	TeamBlue   Team = "blue"
	TeamRed    Team = "red"
	TeamGreen  Team = "green"
	TeamYellow Team = "yellow"
)

// teamOrder is the order in which teams unlock as teamCount grows:
// two teams play blue/red, three add green, four add yellow.
var teamOrder = []Team{TeamBlue, TeamRed, TeamGreen, TeamYellow}

const (
	MinTeamCount = 2
	MaxTeamCount = 4
)

// PlayableTeams returns the teams assignable in a game with the given
// team count, excluding TeamNone.
func PlayableTeams(teamCount int) []Team {
	if teamCount < MinTeamCount {
		teamCount = MinTeamCount
	}
	if teamCount > MaxTeamCount {
		teamCount = MaxTeamCount
	}
	out := make([]Team, teamCount)
	copy(out, teamOrder[:teamCount])
	return out
}

// Assignable reports whether t is a valid assignment in a game with the
// given team count. TeamNone is always assignable.
func (t Team) Assignable(teamCount int) bool {
	if t == TeamNone {
		return true
	}
	for _, p := range PlayableTeams(teamCount) {
		if p == t {
			return true
		}
	}
	return false
}
