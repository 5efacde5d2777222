package constants

import "os"

func GetLibraryDir() string {
	path := os.Getenv("LIBRARY_PATH")
	if path != "" {
		return path
	}
	return "./library"
}

func GetDynamoEndpoint() string {
	endpoint := os.Getenv("DYNAMO_ENDPOINT")
	if endpoint != "" {
		return endpoint
	}
	return "http://localhost:8000"
}

const MetadataTable = "scoreplay-metadata"
