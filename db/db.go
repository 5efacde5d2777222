// Package db looks up score metadata (title, composer, year) by source
// filename in a DynamoDB table, typically a local instance during
// development. Lookups are optional: imports work without the table.
package db

import (
	"strconv"

	"scoreplay/constants"
	"scoreplay/model"
	"scoreplay/util"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

const batchLimit = 10

// GetScoreMetadatas batch-fetches metadata for the given filenames,
// chunked to DynamoDB's batch-get limit. Missing filenames are simply
// absent from the result map.
func GetScoreMetadatas(filenames []string) (map[string]model.ScoreMetadata, error) {
	res := make(map[string]model.ScoreMetadata)
	if len(filenames) == 0 {
		return res, nil
	}

	endpoint := constants.GetDynamoEndpoint()
	sess, err := session.NewSession(&aws.Config{
		Region:   aws.String("localhost"),
		Endpoint: &endpoint,
	})
	if err != nil {
		return nil, err
	}
	client := dynamodb.New(sess)

	for start := 0; start < len(filenames); start += batchLimit {
		batch := filenames[start:util.Min(start+batchLimit, len(filenames))]

		var keys []map[string]*dynamodb.AttributeValue
		for _, filename := range batch {
			keys = append(keys, map[string]*dynamodb.AttributeValue{
				"PK": {S: aws.String(filename)},
			})
		}

		input := &dynamodb.BatchGetItemInput{
			RequestItems: map[string]*dynamodb.KeysAndAttributes{
				constants.MetadataTable: {Keys: keys},
			},
		}
		dbres, err := client.BatchGetItem(input)
		if err != nil {
			return nil, err
		}

		for _, v := range dbres.Responses[constants.MetadataTable] {
			var m model.ScoreMetadata
			if v["Title"] != nil && v["Title"].S != nil {
				m.Title = *v["Title"].S
			}
			if v["Composer"] != nil && v["Composer"].S != nil {
				m.Composer = *v["Composer"].S
			}
			if v["Year"] != nil && v["Year"].N != nil {
				year, _ := strconv.ParseUint(*v["Year"].N, 10, 32)
				m.Year = uint(year)
			}
			if v["PK"] != nil && v["PK"].S != nil {
				res[*v["PK"].S] = m
			}
		}
	}

	return res, nil
}

// Lookup adapts GetScoreMetadatas to the importer's metadata hook for a
// single filename. Errors degrade to "not found".
func Lookup(filename string) (title, composer string, ok bool) {
	metadatas, err := GetScoreMetadatas([]string{filename})
	if err != nil {
		return "", "", false
	}
	m, ok := metadatas[filename]
	return m.Title, m.Composer, ok
}
