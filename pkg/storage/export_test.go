package storage

var NewReplicatedWithSpool = newReplicated
