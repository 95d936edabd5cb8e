package wiz

import "strings"

// Scene is a built-in fixture light scene.
type Scene struct {
	ID   int
	Name string
}

// Scenes lists the built-in scenes by id.
var Scenes = []Scene{
	{1, "Ocean"},
	{2, "Romance"},
	{3, "Sunset"},
	{4, "Party"},
	{5, "Fireplace"},
	{6, "Cozy"},
	{7, "Forest"},
	{8, "Pastel Colors"},
	{9, "Wake up"},
	{10, "Bedtime"},
	{11, "Warm White"},
	{12, "Daylight"},
	{13, "Cool white"},
	{14, "Night light"},
	{15, "Focus"},
	{16, "Relax"},
	{17, "True colors"},
	{18, "TV time"},
	{19, "Plantgrowth"},
	{20, "Spring"},
	{21, "Summer"},
	{22, "Fall"},
	{23, "Deepdive"},
	{24, "Jungle"},
	{25, "Mojito"},
	{26, "Club"},
	{27, "Christmas"},
	{28, "Halloween"},
	{29, "Candlelight"},
	{30, "Golden white"},
	{31, "Pulse"},
	{32, "Steampunk"},
}

// SceneByID returns the scene with the given id.
func SceneByID(id int) (Scene, bool) {
	if id < MinSceneID || id > MaxSceneID {
		return Scene{}, false
	}
	return Scenes[id-1], true
}

// SceneByName looks a scene up by name, ignoring case.
func SceneByName(name string) (Scene, bool) {
	for _, s := range Scenes {
		if strings.EqualFold(s.Name, strings.TrimSpace(name)) {
			return s, true
		}
	}
	return Scene{}, false
}
