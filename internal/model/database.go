// Package model holds the wire-facing competition data shapes shared by the
// channel server, the hub and the query plugins.
package model

import "encoding/json"

// PlatformID identifies a field of play. Opaque and case-sensitive.
type PlatformID string

// AthleteKey is the source-assigned athlete identifier. Opaque, non-empty,
// unique within one database snapshot.
type AthleteKey string

// Database is a full competition snapshot pushed by the source controller.
type Database struct {
	Checksum    string          `json:"checksum,omitempty"`
	Competition Competition     `json:"competition"`
	Athletes    []AthleteRecord `json:"athletes"`
	AgeGroups   []AgeGroup      `json:"ageGroups,omitempty"`
	Categories  []Category      `json:"categories,omitempty"`
	Platforms   []Platform      `json:"platforms,omitempty"`
	Teams       []Team          `json:"teams,omitempty"`
	Sessions    []Session       `json:"sessions,omitempty"`
}

// Competition carries snapshot-level metadata.
type Competition struct {
	Name          string `json:"competitionName,omitempty"`
	City          string `json:"competitionCity,omitempty"`
	StartDate     string `json:"competitionDate,omitempty"`
	EndDate       string `json:"competitionEndDate,omitempty"`
	Federation    string `json:"federation,omitempty"`
	ScoringSystem string `json:"scoringSystem,omitempty"`
	Masters       bool   `json:"masters,omitempty"`
}

type AgeGroup struct {
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

type Category struct {
	Code     string `json:"code"`
	Name     string `json:"name,omitempty"`
	AgeGroup string `json:"ageGroup,omitempty"`
}

type Platform struct {
	Name string `json:"name"`
}

type Team struct {
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
	Flag string `json:"flag,omitempty"`
}

// Session is a group of athletes lifting together on one platform.
type Session struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Platform    string `json:"platform,omitempty"`
	WeighInTime string `json:"weighInTime,omitempty"`
	StartTime   string `json:"competitionTime,omitempty"`
}

// Participation links an athlete to a category within an age group.
type Participation struct {
	AgeGroup      string `json:"ageGroup,omitempty"`
	Category      string `json:"category,omitempty"`
	TeamMember    bool   `json:"teamMember,omitempty"`
	SnatchRank    int    `json:"snatchRank,omitempty"`
	CleanJerkRank int    `json:"cleanJerkRank,omitempty"`
	TotalRank     int    `json:"totalRank,omitempty"`
}

// AthleteRecord is the flat V2 wire shape for one athlete. The raw attempt
// fields are the source of truth; display attempts are derived downstream.
type AthleteRecord struct {
	Key         AthleteKey `json:"key"`
	LastName    string     `json:"lastName,omitempty"`
	FirstName   string     `json:"firstName,omitempty"`
	FullName    string     `json:"fullName,omitempty"`
	Gender      string     `json:"gender,omitempty"`
	YearOfBirth int        `json:"yearOfBirth,omitempty"`
	TeamCode    string     `json:"team,omitempty"`
	Category    string     `json:"category,omitempty"`
	Group       string     `json:"group,omitempty"`
	StartNumber int        `json:"startNumber,omitempty"`
	LotNumber   int        `json:"lotNumber,omitempty"`
	BodyWeight  float64    `json:"bodyWeight,omitempty"`
	Membership  string     `json:"membership,omitempty"`

	Snatch1Declaration          string `json:"snatch1Declaration,omitempty"`
	Snatch1Change1              string `json:"snatch1Change1,omitempty"`
	Snatch1Change2              string `json:"snatch1Change2,omitempty"`
	Snatch1ActualLift           string `json:"snatch1ActualLift,omitempty"`
	Snatch1AutomaticProgression string `json:"snatch1AutomaticProgression,omitempty"`
	Snatch2Declaration          string `json:"snatch2Declaration,omitempty"`
	Snatch2Change1              string `json:"snatch2Change1,omitempty"`
	Snatch2Change2              string `json:"snatch2Change2,omitempty"`
	Snatch2ActualLift           string `json:"snatch2ActualLift,omitempty"`
	Snatch2AutomaticProgression string `json:"snatch2AutomaticProgression,omitempty"`
	Snatch3Declaration          string `json:"snatch3Declaration,omitempty"`
	Snatch3Change1              string `json:"snatch3Change1,omitempty"`
	Snatch3Change2              string `json:"snatch3Change2,omitempty"`
	Snatch3ActualLift           string `json:"snatch3ActualLift,omitempty"`
	Snatch3AutomaticProgression string `json:"snatch3AutomaticProgression,omitempty"`

	CleanJerk1Declaration          string `json:"cleanJerk1Declaration,omitempty"`
	CleanJerk1Change1              string `json:"cleanJerk1Change1,omitempty"`
	CleanJerk1Change2              string `json:"cleanJerk1Change2,omitempty"`
	CleanJerk1ActualLift           string `json:"cleanJerk1ActualLift,omitempty"`
	CleanJerk1AutomaticProgression string `json:"cleanJerk1AutomaticProgression,omitempty"`
	CleanJerk2Declaration          string `json:"cleanJerk2Declaration,omitempty"`
	CleanJerk2Change1              string `json:"cleanJerk2Change1,omitempty"`
	CleanJerk2Change2              string `json:"cleanJerk2Change2,omitempty"`
	CleanJerk2ActualLift           string `json:"cleanJerk2ActualLift,omitempty"`
	CleanJerk2AutomaticProgression string `json:"cleanJerk2AutomaticProgression,omitempty"`
	CleanJerk3Declaration          string `json:"cleanJerk3Declaration,omitempty"`
	CleanJerk3Change1              string `json:"cleanJerk3Change1,omitempty"`
	CleanJerk3Change2              string `json:"cleanJerk3Change2,omitempty"`
	CleanJerk3ActualLift           string `json:"cleanJerk3ActualLift,omitempty"`
	CleanJerk3AutomaticProgression string `json:"cleanJerk3AutomaticProgression,omitempty"`

	BestSnatch    string `json:"bestSnatch,omitempty"`
	BestCleanJerk string `json:"bestCleanJerk,omitempty"`
	Total         string `json:"total,omitempty"`
	SnatchRank    int    `json:"snatchRank,omitempty"`
	CleanJerkRank int    `json:"cleanJerkRank,omitempty"`
	TotalRank     int    `json:"totalRank,omitempty"`
	Sinclair      string `json:"sinclair,omitempty"`

	Participations []Participation `json:"participations,omitempty"`
}

// ParseDatabase decodes a database snapshot from its JSON wire form.
func ParseDatabase(data []byte) (*Database, error) {
	var db Database
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

// AthleteByKey does a linear scan; snapshots are small enough (a few hundred
// athletes) that an index is not worth maintaining across replaces.
func (d *Database) AthleteByKey(key AthleteKey) (*AthleteRecord, bool) {
	for i := range d.Athletes {
		if d.Athletes[i].Key == key {
			return &d.Athletes[i], true
		}
	}
	return nil, false
}
